// Package fetch downloads remote climate files into the local output tree.
//
// A Fetcher combines an HTTP Client with a Store:
//
//	store, _ := fetch.OpenStore("isimip_data")
//	f := fetch.NewFetcher(fetch.NewClient(fetch.DefaultOptions()), store)
//	res := f.Fetch(ctx, url, "GFDL-ESM4/historical/file.nc")
//
// # Idempotence
//
// A key that already exists is reported as skipped without any network
// access. Because the Store only exposes a key after its writer has closed
// cleanly, an interrupted or failed download is never mistaken for a
// complete one on the next run.
//
// # Retries
//
// Options.RetryAttempts enables retries of transient failures (5xx, timeouts,
// dropped connections) with exponential backoff and jitter. It defaults to
// zero: a failed file is reported and the batch moves on.
package fetch
