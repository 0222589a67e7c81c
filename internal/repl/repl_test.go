package repl

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/manash/maskopt/internal/display"
	"github.com/manash/maskopt/internal/render"
	"github.com/manash/maskopt/internal/session"
	"github.com/manash/maskopt/internal/transport"
	"github.com/manash/maskopt/pkg/models"
)

type sentCommand struct {
	name    string
	payload any
}

type mockTransport struct {
	sent []sentCommand
}

func (m *mockTransport) Send(name string, payload any) error {
	m.sent = append(m.sent, sentCommand{name: name, payload: payload})
	return nil
}

func (m *mockTransport) OnMessage(transport.Handler) {}

func (m *mockTransport) names() []string {
	var names []string
	for _, s := range m.sent {
		names = append(names, s.name)
	}
	return names
}

type mockCanvas struct {
	committed []models.Image
}

func (m *mockCanvas) Current(context.Context) (string, error) {
	return "Y2FudmFz", nil
}

func (m *mockCanvas) Commit(_ context.Context, img models.Image) error {
	m.committed = append(m.committed, img)
	return nil
}

type fixture struct {
	repl      *REPL
	out       *bytes.Buffer
	errOut    *bytes.Buffer
	state     *session.State
	inputs    *session.Inputs
	transport *mockTransport
	canvas    *mockCanvas
}

func testREPL(t *testing.T, input string, result *models.OptimizationResult) *fixture {
	t.Helper()

	f := &fixture{
		out:       &bytes.Buffer{},
		errOut:    &bytes.Buffer{},
		state:     session.NewState(),
		inputs:    session.NewInputs(session.Defaults{LearningRate: 30, ModelType: "clip"}),
		transport: &mockTransport{},
		canvas:    &mockCanvas{},
	}
	if result != nil {
		f.state.SetResult(result)
		f.state.SetPhase(models.PhasePausedOptimizing)
	}

	codec := render.NewCodec()
	ctrl, err := session.NewController(&session.Config{
		State:     f.state,
		Inputs:    f.inputs,
		Canvas:    f.canvas,
		Encoder:   codec,
		Transport: f.transport,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	loop := session.NewLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.repl = New(&Config{
		In:         strings.NewReader(input),
		Out:        f.out,
		Err:        f.errOut,
		Controller: ctrl,
		Inputs:     f.inputs,
		Loop:       loop,
		Codec:      codec,
		Saver:      render.NewSaver(),
	})
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	if err := f.repl.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func testResult(t *testing.T) *models.OptimizationResult {
	t.Helper()
	return &models.OptimizationResult{
		Image:         models.Image{Data: pngBytes(t), Format: "png", Width: 2, Height: 2},
		Step:          4,
		NumIterations: 10,
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestREPL_CommandsRegistered(t *testing.T) {
	f := testREPL(t, "", nil)

	expectedCommands := []string{
		"start", "begin",
		"pause", "p",
		"resume", "r",
		"upscale", "up",
		"discard", "d",
		"accept", "a",
		"prompt", "pr",
		"style",
		"lr", "rate",
		"steps",
		"model", "m",
		"mask",
		"status", "st",
		"show", "view",
		"save", "s",
		"help", "?", "h",
		"quit", "exit", "q",
	}

	for _, cmd := range expectedCommands {
		if _, ok := f.repl.commands[cmd]; !ok {
			t.Errorf("Command %q not registered", cmd)
		}
	}
}

func TestREPL_Run_Quit(t *testing.T) {
	f := testREPL(t, "quit\nstatus\n", nil)
	f.run(t)

	if !strings.Contains(f.out.String(), "Goodbye!") {
		t.Error("Run() quit command did not output 'Goodbye!'")
	}
	if strings.Contains(f.out.String(), "Phase:") {
		t.Error("Run() kept reading after quit")
	}
}

func TestREPL_Run_Help(t *testing.T) {
	f := testREPL(t, "help\nquit\n", nil)
	f.run(t)

	output := f.out.String()
	if !strings.Contains(output, "Available commands") {
		t.Error("help did not show available commands")
	}
	for _, name := range []string{"start", "accept", "upscale", "mask"} {
		if !strings.Contains(output, name) {
			t.Errorf("help did not list %s", name)
		}
	}
}

func TestREPL_Run_UnknownCommand(t *testing.T) {
	f := testREPL(t, "frobnicate\nquit\n", nil)
	f.run(t)

	if !strings.Contains(f.errOut.String(), "unknown command: frobnicate") {
		t.Errorf("stderr = %q", f.errOut.String())
	}
}

func TestREPL_Run_EndOfInput(t *testing.T) {
	f := testREPL(t, "\n\n", nil)
	f.run(t)
}

func TestREPL_InputCommands(t *testing.T) {
	f := testREPL(t, strings.Join([]string{
		`prompt "a red fox" in snow`,
		"style watercolor",
		"lr 12.5",
		"steps 40",
		"model vqgan",
		"quit",
	}, "\n")+"\n", nil)
	f.run(t)

	if got := f.inputs.Prompt(); got != "a red fox in snow" {
		t.Errorf("Prompt() = %q", got)
	}
	if got := f.inputs.StylePrompt(); got != "watercolor" {
		t.Errorf("StylePrompt() = %q", got)
	}
	if got := f.inputs.LearningRate(); got != 12.5 {
		t.Errorf("LearningRate() = %v, want 12.5", got)
	}
	if n := f.inputs.NumRecSteps(); n == nil || *n != 40 {
		t.Errorf("NumRecSteps() = %v, want 40", n)
	}
	if got := f.inputs.ModelType(); got != "vqgan" {
		t.Errorf("ModelType() = %q", got)
	}
}

func TestREPL_InvalidInputValues(t *testing.T) {
	f := testREPL(t, "lr -1\nlr abc\nsteps 0\nsteps x\nquit\n", nil)
	f.run(t)

	if got := strings.Count(f.errOut.String(), "Error:"); got != 4 {
		t.Errorf("got %d errors, want 4: %s", got, f.errOut.String())
	}
	if f.inputs.LearningRate() != 30 {
		t.Errorf("LearningRate() changed to %v", f.inputs.LearningRate())
	}
}

func TestREPL_StepsDefault(t *testing.T) {
	f := testREPL(t, "steps 12\nsteps default\nquit\n", nil)
	f.run(t)

	if n := f.inputs.NumRecSteps(); n != nil {
		t.Errorf("NumRecSteps() = %d, want nil", *n)
	}
	if !strings.Contains(f.out.String(), "Steps set to: server default") {
		t.Error("steps default was not confirmed")
	}
}

func TestREPL_Mask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.png")
	if err := os.WriteFile(path, pngBytes(t), 0644); err != nil {
		t.Fatal(err)
	}

	f := testREPL(t, "mask "+path+"\nquit\n", nil)
	f.run(t)

	if f.inputs.MaskBase64() == "" {
		t.Fatalf("mask not loaded, stderr = %s", f.errOut.String())
	}
	if !strings.Contains(f.out.String(), "2x2 png") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestREPL_MaskRejectsNonImage(t *testing.T) {
	f := testREPL(t, "mask notes.txt\nmask\nquit\n", nil)
	f.run(t)

	if got := strings.Count(f.errOut.String(), "Error:"); got != 2 {
		t.Errorf("got %d errors, want 2: %s", got, f.errOut.String())
	}
}

func TestREPL_StartWithoutPrompt(t *testing.T) {
	f := testREPL(t, "start\nquit\n", nil)
	f.inputs.SetMaskBase64("bWFzaw==")
	f.run(t)

	if !strings.Contains(f.errOut.String(), "empty value for: prompt") {
		t.Errorf("stderr = %q", f.errOut.String())
	}
	if len(f.transport.sent) != 0 {
		t.Errorf("sent %v, want nothing", f.transport.names())
	}
	if f.state.Phase() != models.PhaseIdle {
		t.Errorf("Phase() = %v, want idle", f.state.Phase())
	}
}

func TestREPL_StartAndPause(t *testing.T) {
	f := testREPL(t, "prompt fox\nstart\npause\nquit\n", nil)
	f.inputs.SetMaskBase64("bWFzaw==")
	f.run(t)

	want := []string{models.CommandStart, models.CommandStop}
	got := f.transport.names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("sent = %v, want %v", got, want)
	}
	if f.state.Phase() != models.PhasePausedOptimizing {
		t.Errorf("Phase() = %v, want paused", f.state.Phase())
	}
	if !strings.Contains(f.out.String(), "maskopt [optimizing]> ") {
		t.Error("prompt did not reflect the optimizing phase")
	}
}

func TestREPL_ResumeWithoutResult(t *testing.T) {
	f := testREPL(t, "resume\nupscale\naccept\nquit\n", nil)
	f.run(t)

	if got := strings.Count(f.errOut.String(), models.ErrNoResult.Error()); got != 3 {
		t.Errorf("got %d no-result errors, want 3: %s", got, f.errOut.String())
	}
	if len(f.transport.sent) != 0 {
		t.Errorf("sent %v, want nothing", f.transport.names())
	}
}

func TestREPL_ResumeFromResult(t *testing.T) {
	f := testREPL(t, "prompt fox\nresume\nquit\n", testResult(t))
	f.inputs.SetMaskBase64("bWFzaw==")
	f.run(t)

	if got := f.transport.names(); len(got) != 1 || got[0] != models.CommandResume {
		t.Fatalf("sent = %v, want [resume-generation]", got)
	}
	req, ok := f.transport.sent[0].payload.(*models.GenerationRequest)
	if !ok {
		t.Fatalf("payload = %T, want *models.GenerationRequest", f.transport.sent[0].payload)
	}
	if req.BackgroundImg == "Y2FudmFz" {
		t.Error("resume should use the latest result as background, not the canvas")
	}
}

func TestREPL_Accept(t *testing.T) {
	f := testREPL(t, "accept\nstatus\nquit\n", testResult(t))
	f.run(t)

	if len(f.canvas.committed) != 1 {
		t.Fatalf("committed %d images, want 1", len(f.canvas.committed))
	}
	if f.state.HasResult() {
		t.Error("result should be cleared after accept")
	}
	if !strings.Contains(f.out.String(), "Last session:  accepted") {
		t.Errorf("status did not report the accepted outcome: %s", f.out.String())
	}
}

func TestREPL_Discard(t *testing.T) {
	f := testREPL(t, "discard\nquit\n", testResult(t))
	f.run(t)

	if got := f.transport.names(); len(got) != 1 || got[0] != models.CommandStop {
		t.Errorf("sent = %v, want [stop-generation]", got)
	}
	if f.state.HasResult() || f.state.Phase() != models.PhaseIdle {
		t.Error("discard should clear the result and return to idle")
	}
	if len(f.canvas.committed) != 0 {
		t.Error("discard must not touch the canvas")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("terminal gone") }

func TestREPL_DiscardReportsClearFailure(t *testing.T) {
	f := testREPL(t, "discard\nquit\n", testResult(t))
	f.repl.displayer = display.New(failingWriter{})
	f.run(t)

	if f.state.HasResult() || f.state.Phase() != models.PhaseIdle {
		t.Error("discard should complete even when the preview cannot be cleared")
	}
	if !strings.Contains(f.errOut.String(), "Warning: failed to clear preview: terminal gone") {
		t.Errorf("stderr = %q, want clear warning", f.errOut.String())
	}
	if !strings.Contains(f.out.String(), "Discarded") {
		t.Errorf("stdout = %q, want Discarded", f.out.String())
	}
}

func TestREPL_Status(t *testing.T) {
	f := testREPL(t, "status\nquit\n", testResult(t))
	f.state.SetNumUsers(3)
	f.run(t)

	output := f.out.String()
	for _, want := range []string{
		"Phase:         paused",
		"Users:         3",
		"Result:        step 4/10, 2x2 png",
		"Steps:         server default",
		"Mask:          not set",
		"maskopt [paused 4/10, 3 users]> ",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q", want)
		}
	}
}

func TestREPL_Save(t *testing.T) {
	t.Chdir(t.TempDir())

	f := testREPL(t, "save out/final.png\nsave\nsave ../escape.png\nquit\n", testResult(t))
	f.run(t)

	if _, err := os.Stat(filepath.Join("out", "final.png")); err != nil {
		t.Errorf("named save missing: %v", err)
	}
	matches, _ := filepath.Glob("result-*-step4-of-10.png")
	if len(matches) != 1 {
		t.Errorf("default save produced %v", matches)
	}
	if !strings.Contains(f.errOut.String(), "invalid save path") {
		t.Errorf("traversal was not rejected: %s", f.errOut.String())
	}
}

func TestREPL_SaveWithoutResult(t *testing.T) {
	f := testREPL(t, "save\nquit\n", nil)
	f.run(t)

	if !strings.Contains(f.errOut.String(), "nothing to save") {
		t.Errorf("stderr = %q", f.errOut.String())
	}
}

func TestREPL_ShowWithoutDisplay(t *testing.T) {
	f := testREPL(t, "show\nquit\n", testResult(t))
	f.run(t)

	if !strings.Contains(f.errOut.String(), ErrNoDisplay.Error()) {
		t.Errorf("stderr = %q", f.errOut.String())
	}
}

func TestREPL_Stop(t *testing.T) {
	f := testREPL(t, "", nil)

	f.repl.running = true
	f.repl.Stop()

	if f.repl.running {
		t.Error("Stop() did not stop the REPL")
	}
}

func TestPromptLabel(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want string
	}{
		{
			name: "idle alone",
			snap: session.Snapshot{Phase: models.PhaseIdle},
			want: "idle",
		},
		{
			name: "one user",
			snap: session.Snapshot{Phase: models.PhaseIdle, NumUsers: 1},
			want: "idle, 1 user",
		},
		{
			name: "optimizing with progress",
			snap: session.Snapshot{
				Phase:    models.PhaseOptimizing,
				Result:   &models.OptimizationResult{Step: 2, NumIterations: 8},
				NumUsers: 4,
			},
			want: "optimizing 2/8, 4 users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := promptLabel(tt.snap); got != tt.want {
				t.Errorf("promptLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple command",
			input: "prompt fox",
			want:  []string{"prompt", "fox"},
		},
		{
			name:  "double quotes",
			input: `prompt "red fox"`,
			want:  []string{"prompt", "red fox"},
		},
		{
			name:  "single quotes",
			input: `style 'oil painting'`,
			want:  []string{"style", "oil painting"},
		},
		{
			name:  "nested quote kept",
			input: `prompt "it's late"`,
			want:  []string{"prompt", "it's late"},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "multiple spaces",
			input: "lr    12",
			want:  []string{"lr", "12"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCommand(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("parseCommand() = %v, want %v", got, tt.want)
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseCommand()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
