// Package play plays finished takes through an installed command line player.
package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/mp3rec/internal/output"
)

// preferred players, in order
var players = []string{"mpv", "ffplay", "mpg123", "vlc"}

type Player struct {
	dir      string
	logger   *slog.Logger
	lookPath func(string) (string, error)
}

func New(outputDir string, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{dir: outputDir, logger: logger, lookPath: exec.LookPath}
}

// Play blocks until the take has finished playing or ctx is done.
func (p *Player) Play(ctx context.Context, takeName string) error {
	audioFile, err := output.Path(p.dir, takeName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	p.logger.Info("Playing", "file", audioFile, "player", player)
	cmd := exec.CommandContext(ctx, player, playerArgs(player, audioFile)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	p.logger.Debug("Playback completed", "file", audioFile)
	return nil
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func playerArgs(player, file string) []string {
	switch player {
	case "mpv":
		return []string{"--no-video", file}
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", file}
	case "mpg123":
		return []string{"-q", file}
	case "vlc":
		return []string{"--intf", "dummy", "--play-and-exit", file}
	default:
		return []string{file}
	}
}
