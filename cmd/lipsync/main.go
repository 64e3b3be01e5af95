// lipsync converts a speech audio stream into viseme intensities for
// avatar lip-sync, served to renderer clients over a websocket feed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lipsync",
	Short: "Real-time viseme classification for avatar lip-sync",
	Long: `lipsync classifies speech audio into mouth-shape (viseme) intensities
using DTW template matching over cepstral features, with a formant-peak
fallback when no feature extractor is available.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
