package server_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"worldbackup/internal/logging"
	"worldbackup/internal/server"
)

type fakeConsole struct {
	mu       sync.Mutex
	commands []string
	closed   int
	fail     string
	reply    string
}

func (f *fakeConsole) Execute(command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if command == f.fail {
		return "", errors.New("broken pipe")
	}
	return f.reply, nil
}

func (f *fakeConsole) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func newRCON(console *fakeConsole, settle time.Duration) *server.RCON {
	return server.NewRCON(server.RCONOptions{
		Address:         "127.0.0.1:25575",
		Password:        "secret",
		QuiesceCommands: []string{"save-off", "save-all flush"},
		ResumeCommands:  []string{"save-on"},
		Settle:          settle,
		Dial: func(address, password string, _ time.Duration) (server.Commander, error) {
			if password != "secret" {
				return nil, errors.New("authentication failed")
			}
			return console, nil
		},
	}, logging.NewNop())
}

func TestRCONSendsCommandsInOrder(t *testing.T) {
	console := &fakeConsole{reply: "Saved the game"}
	control := newRCON(console, time.Millisecond)

	if err := control.RequestQuiesce(context.Background()); err != nil {
		t.Fatalf("RequestQuiesce: %v", err)
	}
	if err := control.RequestResume(context.Background()); err != nil {
		t.Fatalf("RequestResume: %v", err)
	}
	want := "save-off,save-all flush,save-on"
	if got := strings.Join(console.commands, ","); got != want {
		t.Fatalf("unexpected commands: got %q want %q", got, want)
	}
	if console.closed != 2 {
		t.Fatalf("expected a session per request, got %d closes", console.closed)
	}
}

func TestRCONReportsCommandFailures(t *testing.T) {
	console := &fakeConsole{fail: "save-all flush"}
	control := newRCON(console, 0)
	err := control.RequestQuiesce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "save-all flush") {
		t.Fatalf("expected failing command in error, got %v", err)
	}
}

func TestRCONTreatsUnknownCommandAsRejection(t *testing.T) {
	console := &fakeConsole{reply: "Unknown command. Type \"/help\" for help."}
	control := newRCON(console, 0)
	if err := control.RequestResume(context.Background()); err == nil {
		t.Fatal("expected unknown command to be rejected")
	}
}

func TestRCONSettleHonorsCancellation(t *testing.T) {
	console := &fakeConsole{}
	control := newRCON(console, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := control.RequestQuiesce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline during settle, got %v", err)
	}
}

func TestExecControlRunsArgv(t *testing.T) {
	control := server.NewExec(
		[]string{"sh", "-c", "exit 0"},
		[]string{"sh", "-c", "echo server offline >&2; exit 3"},
		logging.NewNop(),
	)
	if err := control.RequestQuiesce(context.Background()); err != nil {
		t.Fatalf("RequestQuiesce: %v", err)
	}
	err := control.RequestResume(context.Background())
	if err == nil {
		t.Fatal("expected resume failure")
	}
	if !strings.Contains(err.Error(), "server offline") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if err := control.RevertQuiesce(context.Background()); err == nil {
		t.Fatal("revert runs the resume command and should fail too")
	}
}

func TestExecControlHonorsTimeout(t *testing.T) {
	control := server.NewExec([]string{"sleep", "5"}, []string{"true"}, logging.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := control.RequestQuiesce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
