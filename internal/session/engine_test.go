package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/pkg/models"
)

type fakeFinder struct {
	byValue map[float64][]int64
}

func (f fakeFinder) FindCandidates(ctx context.Context, probe models.Probe) ([]int64, error) {
	return f.byValue[probe.Value], nil
}

type fakeAdvisor struct {
	next *models.Descriptor
}

func (f fakeAdvisor) NextQuestion(ctx context.Context, sess *models.Session) (*models.Descriptor, error) {
	return f.next, nil
}

func probe(v float64) models.Probe {
	return models.Probe{Value: v, Descriptor: models.Descriptor{Family: "delta", SampleID: int64(v * 1000)}}
}

func TestStart_ZeroCandidatesNeverAllocatesSession(t *testing.T) {
	e := NewEngine(fakeFinder{byValue: map[float64][]int64{}}, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	out, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)
	require.Equal(t, models.StatusNoMatch, out.Status)
	require.Empty(t, out.SessionID)
	require.Equal(t, 0, e.Count())
}

func TestStart_SingleCandidateIsImmediateMatch(t *testing.T) {
	e := NewEngine(fakeFinder{byValue: map[float64][]int64{0.1: {42}}}, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	out, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)
	require.Equal(t, models.StatusMatchFound, out.Status)
	require.Equal(t, int64(42), out.ImageID)
	require.Equal(t, 0, e.Count())
}

func TestStart_MultipleCandidatesOpensSession(t *testing.T) {
	e := NewEngine(fakeFinder{byValue: map[float64][]int64{0.1: {1, 2, 3}}}, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	out, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)
	require.Equal(t, models.StatusCandidatesFound, out.Status)
	require.NotEmpty(t, out.SessionID)
	require.Len(t, out.Candidates, 3)
	require.Equal(t, 1, e.Count())
}

func TestRefine_IntersectionNarrowsCandidates(t *testing.T) {
	finder := fakeFinder{byValue: map[float64][]int64{
		0.1: {1, 2, 3},
		0.2: {2, 3, 4},
	}}
	e := NewEngine(finder, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	start, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)

	refined, err := e.Refine(context.Background(), start.SessionID, probe(0.2))
	require.NoError(t, err)
	require.Equal(t, models.StatusCandidatesFound, refined.Status)
	require.ElementsMatch(t, []int64{2, 3}, refined.Candidates)
}

func TestRefine_EmptyIntersectionEndsSessionWithNoMatch(t *testing.T) {
	finder := fakeFinder{byValue: map[float64][]int64{
		0.1: {1, 2},
		0.2: {9},
	}}
	e := NewEngine(finder, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	start, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)

	refined, err := e.Refine(context.Background(), start.SessionID, probe(0.2))
	require.NoError(t, err)
	require.Equal(t, models.StatusNoMatch, refined.Status)
	_, ok := e.Get(start.SessionID)
	require.False(t, ok)
}

func TestRefine_SingleSurvivorEndsSessionWithMatch(t *testing.T) {
	finder := fakeFinder{byValue: map[float64][]int64{
		0.1: {1, 2, 3},
		0.2: {2},
	}}
	e := NewEngine(finder, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	start, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)

	refined, err := e.Refine(context.Background(), start.SessionID, probe(0.2))
	require.NoError(t, err)
	require.Equal(t, models.StatusMatchFound, refined.Status)
	require.Equal(t, int64(2), refined.ImageID)
	_, ok := e.Get(start.SessionID)
	require.False(t, ok)
}

func TestRefine_UnknownSessionReturnsNotFound(t *testing.T) {
	e := NewEngine(fakeFinder{}, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	_, err := e.Refine(context.Background(), "nonexistent", probe(0.1))
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNextQuestion_NeverReturnsAnAlreadyAskedDescriptor(t *testing.T) {
	finder := fakeFinder{byValue: map[float64][]int64{0.1: {1, 2, 3}}}
	askedDescriptor := probe(0.1).Descriptor
	e := NewEngine(finder, fakeAdvisor{next: &askedDescriptor}, time.Minute)
	defer e.Stop()

	start, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)

	next, err := e.NextQuestion(context.Background(), start.SessionID)
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestConstellationPath_AccuracyIsCumulativeProduct(t *testing.T) {
	finder := fakeFinder{byValue: map[float64][]int64{
		0.1: {1, 2, 3, 4},
		0.2: {1, 2},
	}}
	e := NewEngine(finder, fakeAdvisor{}, time.Minute)
	defer e.Stop()

	start, err := e.Start(context.Background(), probe(0.1))
	require.NoError(t, err)
	refined, err := e.Refine(context.Background(), start.SessionID, probe(0.2))
	require.NoError(t, err)

	require.Len(t, refined.Constellation, 2)
	require.InDelta(t, 0.25, refined.Constellation[0].CumulativeAccuracy, 1e-9)
	require.InDelta(t, 0.25*0.5, refined.Constellation[1].CumulativeAccuracy, 1e-9)
}
