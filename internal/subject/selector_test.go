package subject

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rzbill/rookery/internal/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

type memPersister struct {
	id   string
	fail error
}

func (m *memPersister) CurrentSubject(context.Context) (string, error) {
	if m.id == "" {
		return "", errMissing
	}
	return m.id, nil
}

func (m *memPersister) SetCurrentSubject(_ context.Context, id string) error {
	if m.fail != nil {
		return m.fail
	}
	m.id = id
	return nil
}

func TestSetAndCurrent(t *testing.T) {
	p := &memPersister{}
	s := NewSelector("PNG-001", p, nil)
	assert.Equal(t, "PNG-001", s.Current())

	require.NoError(t, s.Set(context.Background(), " PNG-042 "))
	assert.Equal(t, "PNG-042", s.Current())
	assert.Equal(t, "PNG-042", p.id)

	err := s.Set(context.Background(), "")
	assert.True(t, measurement.IsValidation(err))
	err = s.Set(context.Background(), "../x")
	assert.True(t, measurement.IsValidation(err))

	p.fail = errors.New("disk full")
	assert.Error(t, s.Set(context.Background(), "PNG-777"))
	assert.Equal(t, "PNG-042", s.Current(), "failed persist must keep the previous value")
}

func TestSetRejectsIDsUnusableAsFileNames(t *testing.T) {
	p := &memPersister{id: "PNG-001"}
	s := NewSelector("PNG-001", p, nil)
	for _, id := range []string{".hidden", "..", "PNG\x00"} {
		err := s.Set(context.Background(), id)
		assert.True(t, measurement.IsValidation(err), "%q", id)
	}
	assert.Equal(t, "PNG-001", s.Current())
	assert.Equal(t, "PNG-001", p.id, "rejected ids are never persisted")
}

func TestRestore(t *testing.T) {
	s := NewSelector("PNG-001", &memPersister{}, nil)
	require.NoError(t, s.Restore(context.Background(), errMissing))
	assert.Equal(t, "PNG-001", s.Current())

	s = NewSelector("PNG-001", &memPersister{id: "PNG-009"}, nil)
	require.NoError(t, s.Restore(context.Background(), errMissing))
	assert.Equal(t, "PNG-009", s.Current())

	require.NoError(t, NewSelector("PNG-001", nil, nil).Restore(context.Background(), errMissing))
}

func TestConcurrentAccess(t *testing.T) {
	s := NewSelector("PNG-001", nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Set(context.Background(), "PNG-002")
		}()
		go func() {
			defer wg.Done()
			_ = s.Current()
		}()
	}
	wg.Wait()
	assert.Equal(t, "PNG-002", s.Current())
}
