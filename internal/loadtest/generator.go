package loadtest

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/okian/courtside/pkg/logger"
)

const minClipBytes = 16

// generateClips creates cfg.Clips clips with random content and unique
// request ids, followed by cfg.Repeats re-sends of the first clips.
func generateClips(ctx context.Context, cfg *Config, stats *Stats) ([]Clip, error) {
	size := max(cfg.ClipBytes, minClipBytes)
	logger.Get().Info(ctx, "generating clips", logger.Int("clips", cfg.Clips), logger.Int("bytes", size))

	clips := make([]Clip, 0, cfg.Clips+cfg.Repeats)
	for i := 0; i < cfg.Clips; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during clip generation: %w", err)
		}
		data := make([]byte, size)
		if _, err := rand.Read(data); err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		clips = append(clips, Clip{
			RequestID: uuid.NewString(),
			Name:      "rally_" + strconv.Itoa(i) + ".mp4",
			Data:      data,
		})
	}
	for i := 0; i < cfg.Repeats && cfg.Clips > 0; i++ {
		clips = append(clips, clips[i%cfg.Clips])
	}

	stats.ClipsGenerated = cfg.Clips
	return clips, nil
}
