// Package progress reports batch progress for long download-and-crop runs.
//
// The reporter prints one status line per interval to its output, which
// defaults to stderr so it interleaves with the structured log.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Total: 40, Workers: 5})
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ItemStarted()
//	reporter.ItemFinished(progress.OutcomeDone, bytes)
//
// # Output Format
//
//	[isimip] Items: 40 total | Workers: 5
//	[isimip] Progress: 45.0% | 14 done | 3 skipped | 1 failed | 5 in-progress | 17 pending | 2.31 GB
//	[isimip] Finished in 1h 2m 3s: 35 done | 3 skipped | 2 failed | 0 not run | 9.80 GB
package progress
