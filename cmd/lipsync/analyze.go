package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/lipsync/internal/audio"
	"github.com/normanking/lipsync/internal/session"
	"github.com/normanking/lipsync/internal/viseme"
)

var (
	analyzeRealtime    bool
	analyzeSensitivity float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.wav>",
	Short: "Classify a WAV file and print a live viseme intensity meter",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeRealtime, "realtime", false, "pace playback at the file's real rate")
	analyzeCmd.Flags().Float64Var(&analyzeSensitivity, "sensitivity", 0.5, "classification sensitivity [0,1]")
	rootCmd.AddCommand(analyzeCmd)
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(3)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	src, err := audio.NewFileSource(args[0], audio.FileSourceOptions{
		Realtime: analyzeRealtime,
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(done) }) }

	sess := session.New(session.Config{
		Sensitivity: analyzeSensitivity,
	}, zerolog.Nop())

	sess.OnVisemeUpdate(func(st viseme.State) {
		fmt.Print("\r" + renderMeter(st))
	})
	sess.OnError(func(err error) {
		fmt.Fprintln(cmd.ErrOrStderr(), "session error:", err)
		finish()
	})

	if err := sess.Start(context.Background(), src); err != nil {
		return err
	}
	defer sess.Stop()

	// a file source ends by exhausting its chunks; give the session a
	// moment to drain, then finish
	go func() {
		for src.Available() {
			time.Sleep(100 * time.Millisecond)
		}
		time.Sleep(300 * time.Millisecond)
		finish()
	}()

	<-done
	fmt.Println()
	return nil
}

// renderMeter draws one line of per-viseme intensity bars.
func renderMeter(st viseme.State) string {
	var b strings.Builder
	for _, v := range viseme.Vowels() {
		intensity := st[v]
		filled := int(intensity * 10)
		bar := barStyle.Render(strings.Repeat("█", filled)) +
			dimStyle.Render(strings.Repeat("░", 10-filled))
		b.WriteString(labelStyle.Render(string(v)))
		b.WriteString(bar)
		b.WriteString("  ")
	}
	return b.String()
}
