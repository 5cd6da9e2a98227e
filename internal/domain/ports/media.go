package ports

import (
	"context"
	"io"

	"torrentsession/internal/domain"
)

// MediaIndex exposes container metadata for files of the active torrent.
type MediaIndex interface {
	Register(hash domain.InfoHash, files []domain.MediaFile)
	Wrap(hash domain.InfoHash, index int, r io.ReadSeekCloser) io.ReadSeekCloser
	Attachments(ctx context.Context, hash domain.InfoHash, index int) ([]domain.Attachment, error)
	Chapters(ctx context.Context, hash domain.InfoHash, index int) ([]domain.Chapter, error)
	Tracks(ctx context.Context, hash domain.InfoHash, index int) ([]domain.SubtitleTrack, error)
	Subtitle(hash domain.InfoHash, index int, fn func(cue domain.SubtitleCue, track uint64)) error
	Destroy(ctx context.Context) error
}
