package authorization

import (
	"context"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// ChallengeMarker is the narrow slice of the storage engine every
// built-in plugin needs: the ability to record a challenge code as
// satisfied once its side channel has been proven.
type ChallengeMarker interface {
	MarkChallengeCodeSatisfied(ctx context.Context, truthUUID storage.TruthUUID, code uint64) error
}

// FilePlugin is the "file" method: no challenge-code round trip at
// all, used for local testing. Start marks the code satisfied on the
// spot.
type FilePlugin struct {
	marker ChallengeMarker
}

// NewFilePlugin builds the file plugin.
func NewFilePlugin(marker ChallengeMarker) *FilePlugin {
	return &FilePlugin{marker: marker}
}

func (p *FilePlugin) Metadata() Metadata {
	return Metadata{
		Cost:               amount.Amount{},
		RetryCounter:       1,
		CodeValidityPeriod: 365 * 24 * time.Hour,
		CodeRotationPeriod: 365 * 24 * time.Hour,
	}
}

func (p *FilePlugin) Validate(mimeType string, data []byte) error {
	return nil
}

func (p *FilePlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	if err := p.marker.MarkChallengeCodeSatisfied(ctx, truthUUID, code); err != nil {
		return nil, err
	}
	s := newBaseState()
	s.wake()
	return s, nil
}

func (p *FilePlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	return Outcome{Result: Finished}, nil
}

func (p *FilePlugin) Cleanup(state State) {}
