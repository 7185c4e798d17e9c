package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/docker/docker/client"
)

const testImage = "registry.test/cdo:2.4"

// fakeDaemon answers the Docker Engine API calls made by DockerRuntime.
type fakeDaemon struct {
	imagePresent bool
	exitCode     int
	logs         string
	// breakPull closes the connection halfway through the pull stream.
	breakPull bool

	creates atomic.Int32
	mu      sync.Mutex
	created createBody
}

func (f *fakeDaemon) lastCreate() createBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type createBody struct {
	Image      string
	Cmd        []string
	WorkingDir string
	HostConfig struct {
		Mounts []json.RawMessage
	}
}

func (f *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if i := strings.Index(p[1:], "/"); strings.HasPrefix(p, "/v1.") && i > 0 {
		p = p[i+1:]
	}

	switch {
	case p == "/_ping":
		w.Header().Set("Api-Version", "1.47")
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(p, "/images/") && strings.HasSuffix(p, "/json"):
		if !f.imagePresent {
			http.Error(w, `{"message":"No such image"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"Id":"sha256:0123"}`))
	case p == "/images/create":
		if f.breakPull {
			w.Header().Set("Content-Length", "4096")
			w.Write([]byte(`{"status":"Pulling fs layer"}`))
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		w.Write([]byte(`{"status":"Downloaded newer image"}`))
	case p == "/containers/create":
		var body createBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.created = body
		f.mu.Unlock()
		f.creates.Add(1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"Id":"c1","Warnings":[]}`))
	case p == "/containers/c1/start", p == "/containers/c1/stop":
		w.WriteHeader(http.StatusNoContent)
	case p == "/containers/c1/wait":
		json.NewEncoder(w).Encode(map[string]int{"StatusCode": f.exitCode})
	case p == "/containers/c1/logs":
		w.Write([]byte(f.logs))
	case p == "/containers/c1" && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newFakeDockerRuntime(t *testing.T, daemon *fakeDaemon) *DockerRuntime {
	t.Helper()
	srv := httptest.NewServer(daemon)
	t.Cleanup(srv.Close)

	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+srv.Listener.Addr().String()),
		client.WithVersion("1.47"),
	)
	if err != nil {
		t.Fatalf("failed to create docker client: %v", err)
	}
	t.Cleanup(func() { cli.Close() })
	return &DockerRuntime{client: cli, image: testImage}
}

func TestDockerRuntime_Check_BinaryMissingFromImage(t *testing.T) {
	daemon := &fakeDaemon{imagePresent: true, exitCode: 127, logs: "ncks\n"}
	rt := newFakeDockerRuntime(t, daemon)

	err := rt.Check(context.Background(), "cdo", "ncks")
	if !errors.Is(err, ErrMissingPrerequisite) {
		t.Fatalf("expected ErrMissingPrerequisite, got %v", err)
	}
	if !strings.Contains(err.Error(), "ncks not found in image "+testImage) {
		t.Errorf("expected the missing binary in the error, got %v", err)
	}

	created := daemon.lastCreate()
	if created.Image != testImage {
		t.Errorf("expected check container from %s, got %s", testImage, created.Image)
	}
	if !slices.Equal(created.Cmd, checkCommand([]string{"cdo", "ncks"})) {
		t.Errorf("unexpected check command %v", created.Cmd)
	}
	if len(created.HostConfig.Mounts) != 0 || created.WorkingDir != "" {
		t.Errorf("expected no data mount for the check container, got %+v", created)
	}
}

func TestDockerRuntime_Check_BinariesPresent(t *testing.T) {
	daemon := &fakeDaemon{imagePresent: true}
	rt := newFakeDockerRuntime(t, daemon)

	if err := rt.Check(context.Background(), "cdo"); err != nil {
		t.Fatalf("expected check to pass, got %v", err)
	}
	if daemon.creates.Load() != 1 {
		t.Errorf("expected 1 check container, got %d", daemon.creates.Load())
	}
}

func TestDockerRuntime_Check_NoBinaries(t *testing.T) {
	daemon := &fakeDaemon{imagePresent: true}
	rt := newFakeDockerRuntime(t, daemon)

	if err := rt.Check(context.Background()); err != nil {
		t.Fatalf("expected check to pass, got %v", err)
	}
	if daemon.creates.Load() != 0 {
		t.Errorf("expected no container without binaries, got %d", daemon.creates.Load())
	}

	rt.image = ""
	if err := rt.Check(context.Background()); !errors.Is(err, ErrMissingPrerequisite) {
		t.Errorf("expected ErrMissingPrerequisite without an image, got %v", err)
	}
}

func TestDockerRuntime_Start_InterruptedPull(t *testing.T) {
	daemon := &fakeDaemon{breakPull: true}
	rt := newFakeDockerRuntime(t, daemon)

	_, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"cdo", "-s", "sellonlatbox,-120,-100,30,40", "in.nc", "out.nc"},
		WorkDir: t.TempDir(),
	})
	if err == nil || !strings.Contains(err.Error(), "failed to pull image "+testImage) {
		t.Fatalf("expected pull error, got %v", err)
	}
	if daemon.creates.Load() != 0 {
		t.Errorf("expected no container after a failed pull, got %d", daemon.creates.Load())
	}
}

func TestDockerRuntime_Start_MountsWorkDir(t *testing.T) {
	daemon := &fakeDaemon{imagePresent: true}
	rt := newFakeDockerRuntime(t, daemon)

	handle, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"cdo", "-s", "sellonlatbox,-120,-100,30,40", "in.nc", "out.nc"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer handle.Stop(context.Background())

	created := daemon.lastCreate()
	if created.WorkingDir != ContainerDataDir {
		t.Errorf("expected working dir %s, got %q", ContainerDataDir, created.WorkingDir)
	}
	if len(created.HostConfig.Mounts) != 1 {
		t.Errorf("expected one bind mount, got %d", len(created.HostConfig.Mounts))
	}
}
