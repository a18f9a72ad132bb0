package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parslaw/dadgar/internal/config"
	"github.com/parslaw/dadgar/pkg/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Nil(t, st)

	st = models.NewSessionState("chat-1", "user-1")
	st.ActiveModule = models.ModuleContractDrafting
	st.AddMessage(models.RoleUser, "قرارداد اجاره میخوام", 8)
	require.NoError(t, store.Save(ctx, st))
	assert.Equal(t, int64(1), st.Version)

	got, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ModuleContractDrafting, got.ActiveModule)
	require.Len(t, got.History, 1)
	assert.Equal(t, "قرارداد اجاره میخوام", got.History[0].Content)
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := models.NewSessionState("chat-1", "user-1")
	require.NoError(t, store.Save(ctx, st))

	a, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	b, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, a))
	assert.ErrorIs(t, store.Save(ctx, b), ErrVersionConflict)
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := models.NewSessionState("chat-1", "user-1")
	st.AddMessage(models.RoleUser, "سلام", 1)
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	got.History[0].Content = "mutated"
	got.ActiveModule = models.ModulePetitions

	again, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "سلام", again.History[0].Content)
	assert.Equal(t, models.DefaultModule, again.ActiveModule)
}

func TestOpenUnknownDriver(t *testing.T) {
	settings := config.Default()
	settings.SessionDriver = "etcd"
	_, err := Open(settings, nil)
	assert.Error(t, err)
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	settings := config.Default()
	settings.SessionDriver = "redis"
	_, err := Open(settings, nil)
	assert.Error(t, err)
}

func TestOpenMemory(t *testing.T) {
	settings := config.Default()
	settings.SessionDriver = "memory"
	store, err := Open(settings, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestChatLocksSerializeSameChat(t *testing.T) {
	locks := NewChatLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("chat-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestChatLocksIndependentChats(t *testing.T) {
	locks := NewChatLocks()

	unlockA := locks.Lock("chat-a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("chat-b")
		unlockB()
		close(done)
	}()
	<-done // chat-b must not wait on chat-a
	unlockA()
}

func TestChatLocksMapDrains(t *testing.T) {
	locks := NewChatLocks()

	unlock := locks.Lock("chat-1")
	assert.Equal(t, 1, locks.Active())
	unlock()
	assert.Equal(t, 0, locks.Active())
}
