// Package main provides the command-line presentation shell.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apiconnect "github.com/osa030/lessonbox/internal/api/connect"
	"github.com/osa030/lessonbox/internal/app/notification"
)

var (
	app    = kingpin.New("lessonbox-shell", "lessonbox command-line player shell")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Shell token (or set LESSONBOX_SHELL_TOKEN env)").Envar("LESSONBOX_SHELL_TOKEN").String()

	// open command
	openCmd       = app.Command("open", "Open a lesson")
	openLessonID  = openCmd.Arg("lesson-id", "Lesson ID").Required().String()
	openSrc       = openCmd.Arg("src", "Video source (default: looked up from the course API)").String()
	openWatermark = openCmd.Flag("watermark", "Watermark text override").String()

	closeCmd      = app.Command("close", "Close the open lesson")
	statusCmd     = app.Command("status", "Show the player snapshot")
	playCmd       = app.Command("play", "Toggle play/pause").Alias("pause")
	muteCmd       = app.Command("mute", "Toggle mute")
	fullscreenCmd = app.Command("fullscreen", "Toggle fullscreen")
	settingsCmd   = app.Command("settings", "Toggle the settings menu")

	seekCmd    = app.Command("seek", "Seek to a percentage of the lesson")
	seekTarget = seekCmd.Arg("percentage", "Target percentage (0-100)").Required().Float64()

	volumeCmd   = app.Command("volume", "Set the volume")
	volumeLevel = volumeCmd.Arg("level", "Volume level (0-1)").Required().Float64()

	rateCmd   = app.Command("rate", "Set the playback rate")
	rateValue = rateCmd.Arg("rate", "Playback rate (0.5, 0.75, 1, 1.25, 1.5, 2)").Required().Float64()

	watchCmd = app.Command("watch", "Stream player notifications")
)

// shell issues PlayerService calls.
type shell struct {
	httpClient *http.Client
	baseURL    string
	opts       []connect.ClientOption
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: shell token is required (use --token or LESSONBOX_SHELL_TOKEN env)")
		os.Exit(1)
	}

	s := &shell{
		httpClient: http.DefaultClient,
		baseURL:    *server,
		opts:       []connect.ClientOption{connect.WithInterceptors(apiconnect.NewShellAuthInterceptor(*token))},
	}

	ctx := context.Background()

	switch command {
	case openCmd.FullCommand():
		s.open(ctx, *openLessonID, *openSrc, *openWatermark)
	case closeCmd.FullCommand():
		s.close(ctx)
	case statusCmd.FullCommand():
		s.empty(ctx, apiconnect.GetSnapshotProcedure)
	case playCmd.FullCommand():
		s.empty(ctx, apiconnect.TogglePlayProcedure)
	case muteCmd.FullCommand():
		s.empty(ctx, apiconnect.ToggleMuteProcedure)
	case fullscreenCmd.FullCommand():
		s.empty(ctx, apiconnect.ToggleFullscreenProcedure)
	case settingsCmd.FullCommand():
		s.empty(ctx, apiconnect.ToggleSettingsProcedure)
	case seekCmd.FullCommand():
		s.value(ctx, apiconnect.SeekProcedure, *seekTarget)
	case volumeCmd.FullCommand():
		s.value(ctx, apiconnect.SetVolumeProcedure, *volumeLevel)
	case rateCmd.FullCommand():
		s.value(ctx, apiconnect.SetPlaybackRateProcedure, *rateValue)
	case watchCmd.FullCommand():
		s.watch(ctx)
	}
}

func (s *shell) open(ctx context.Context, lessonID, src, watermark string) {
	fields := map[string]any{"lesson_id": lessonID}
	if src != "" {
		fields["src"] = src
	}
	if watermark != "" {
		fields["watermark_text"] = watermark
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		fail(err)
	}

	client := connect.NewClient[structpb.Struct, structpb.Struct](s.httpClient, s.baseURL+apiconnect.OpenLessonProcedure, s.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		fail(err)
	}
	printSnapshot(resp.Msg)
}

func (s *shell) close(ctx context.Context) {
	client := connect.NewClient[emptypb.Empty, emptypb.Empty](s.httpClient, s.baseURL+apiconnect.CloseLessonProcedure, s.opts...)
	if _, err := client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})); err != nil {
		fail(err)
	}
	fmt.Println("Lesson closed")
}

func (s *shell) empty(ctx context.Context, procedure string) {
	client := connect.NewClient[emptypb.Empty, structpb.Struct](s.httpClient, s.baseURL+procedure, s.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		fail(err)
	}
	printSnapshot(resp.Msg)
}

func (s *shell) value(ctx context.Context, procedure string, v float64) {
	client := connect.NewClient[wrapperspb.DoubleValue, structpb.Struct](s.httpClient, s.baseURL+procedure, s.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(wrapperspb.Double(v)))
	if err != nil {
		fail(err)
	}
	printSnapshot(resp.Msg)
}

func (s *shell) watch(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := connect.NewClient[emptypb.Empty, structpb.Struct](s.httpClient, s.baseURL+apiconnect.WatchProcedure, s.opts...)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		fail(err)
	}
	defer stream.Close()

	fmt.Println("Watching player. Press Ctrl+C to exit.")

	for stream.Receive() {
		printSnapshot(stream.Msg())
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printSnapshot(msg *structpb.Struct) {
	w, err := notification.Decode(msg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if w.SequenceNo > 0 {
		fmt.Printf("\n[Sequence: %.0f] ", w.SequenceNo)
	} else {
		fmt.Println()
	}
	fmt.Printf("=== %s ===\n", w.Event)

	if w.LessonID == "" {
		fmt.Println("No lesson open")
		return
	}

	state := "⏸  Paused"
	if w.IsPlaying {
		state = "▶️  Playing"
	}
	fmt.Printf("  Lesson: %s\n", w.LessonID)
	fmt.Printf("  State: %s\n", state)
	fmt.Printf("  Position: %s / %s (%.1f%%)\n", w.CurrentTimeText, w.DurationText, w.Percentage)
	if w.IsMuted {
		fmt.Printf("  Volume: muted (%.2f)\n", w.Volume)
	} else {
		fmt.Printf("  Volume: %.2f\n", w.Volume)
	}
	fmt.Printf("  Rate: %gx\n", w.PlaybackRate)
	fmt.Printf("  Fullscreen: %v\n", w.IsFullscreen)
	fmt.Printf("  Controls: %s\n", w.ControlsState)
	fmt.Printf("  Settings Open: %v\n", w.SettingsOpen)
	fmt.Printf("  Watermark: %q (%s, %.2f)\n", w.WatermarkText, w.WatermarkPosition, w.WatermarkOpacity)
	if w.LastError != "" {
		fmt.Printf("  Last Error: %s\n", w.LastError)
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}
