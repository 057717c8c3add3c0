package api

import (
	"context"
	"math/rand"

	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/internal/knowledge"
	"github.com/rawblock/probefind/internal/sampling"
	"github.com/rawblock/probefind/pkg/models"
)

// ValueTypeResolver is the single store method the advisor needs to map a
// probe's descriptor hash back to its value_type id.
type ValueTypeResolver interface {
	ValueTypeByHash(ctx context.Context, hash string) (int64, bool, error)
}

// RelatedSelector is the knowledge-graph read path the advisor biases on.
type RelatedSelector interface {
	FetchRelatedConstellations(ctx context.Context, anchorValueTypeID int64) ([]knowledge.RelatedConstellation, error)
}

// ConstellationAdvisor implements session.NextQuestionProvider: it biases
// on C10's related constellations first, falls back to cycling the last
// descriptor's channel, and only then proposes a fresh sample — bounded so
// a session with no knowledge-graph hits still terminates.
type ConstellationAdvisor struct {
	Resolver         ValueTypeResolver
	Selector         RelatedSelector
	RandomComboCount int
}

func (a *ConstellationAdvisor) NextQuestion(ctx context.Context, sess *models.Session) (*models.Descriptor, error) {
	last := sess.LastProbe.Descriptor

	if vt, ok, err := a.Resolver.ValueTypeByHash(ctx, last.Hash()); err != nil {
		return nil, err
	} else if ok {
		related, err := a.Selector.FetchRelatedConstellations(ctx, vt)
		if err != nil {
			return nil, err
		}
		for _, rc := range related {
			if !sess.HasAsked(rc.Descriptor.Hash()) {
				d := rc.Descriptor
				return &d, nil
			}
		}
	}

	idx := channelIndex(last.Channel)
	for step := 1; step <= len(config.ChannelDimensions); step++ {
		candidate := last
		candidate.Channel = config.ChannelDimensions[(idx+step)%len(config.ChannelDimensions)]
		candidate = candidate.Canonicalize()
		if !sess.HasAsked(candidate.Hash()) {
			return &candidate, nil
		}
	}

	// All channels exhausted. Allow exactly one fresh-sample fallback so
	// the dialog stays bounded close to the channel-set size rather than
	// running forever on an un-ingested corpus.
	if len(sess.ConstellationPath) > len(config.ChannelDimensions) {
		return nil, nil
	}
	d := sampling.DescriptorFor(rand.Int63(), a.RandomComboCount)
	if sess.HasAsked(d.Hash()) {
		return nil, nil
	}
	return &d, nil
}

func channelIndex(channel string) int {
	for i, c := range config.ChannelDimensions {
		if c == channel {
			return i
		}
	}
	return -1
}
