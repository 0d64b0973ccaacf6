package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// ---------------------------------------------------------------------------
// Pending store
// ---------------------------------------------------------------------------

func TestMemoryPendingStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPendingStore()

	p := &Pending{
		ID:        "p1",
		Workflow:  "trip_planner",
		NodeName:  "collect",
		Prompt:    "Are the dates correct?",
		State:     NewState("trip_planner", "task"),
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Save(ctx, p))

	got, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "collect", got.NodeName)
	assert.Equal(t, "Are the dates correct?", got.Prompt)

	require.NoError(t, store.Delete(ctx, "p1"))
	_, err = store.Load(ctx, "p1")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), `no pending run "p1"`)
}

func TestMemoryPendingStore_RejectsMissingID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPendingStore()

	require.Error(t, store.Save(ctx, nil))
	require.Error(t, store.Save(ctx, &Pending{Workflow: "trip"}))
}

func TestMemoryPendingStore_TTLPrunesStaleRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPendingStore()
	store.SetTTL(time.Minute)

	stale := &Pending{ID: "old", CreatedAt: time.Now().Add(-2 * time.Minute)}
	fresh := &Pending{ID: "new", CreatedAt: time.Now()}
	require.NoError(t, store.Save(ctx, stale))
	require.NoError(t, store.Save(ctx, fresh))

	_, err := store.Load(ctx, "old")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))

	_, err = store.Load(ctx, "new")
	require.NoError(t, err)
}

func TestMemoryPendingStore_ListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPendingStore()

	base := time.Now()
	require.NoError(t, store.Save(ctx, &Pending{ID: "second", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Save(ctx, &Pending{ID: "third", CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, store.Save(ctx, &Pending{ID: "first", CreatedAt: base}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, "second", list[1].ID)
	assert.Equal(t, "third", list[2].ID)
}

// ---------------------------------------------------------------------------
// Token codec
// ---------------------------------------------------------------------------

func TestTokenCodec_PassthroughWithoutSecret(t *testing.T) {
	codec := NewTokenCodec("", 0)

	token, err := codec.Issue("p1", "trip_planner")
	require.NoError(t, err)
	assert.Equal(t, "p1", token)

	id, err := codec.Verify("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", id)

	_, err = codec.Verify("")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
}

func TestTokenCodec_SignedRoundTrip(t *testing.T) {
	codec := NewTokenCodec("vault-secret", time.Minute)

	token, err := codec.Issue("p1", "trip_planner")
	require.NoError(t, err)
	assert.NotEqual(t, "p1", token)
	assert.Equal(t, 3, len(strings.Split(token, ".")), "expected a JWT")

	id, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}

func TestTokenCodec_RejectsTamperedToken(t *testing.T) {
	codec := NewTokenCodec("vault-secret", time.Minute)
	token, err := codec.Issue("p1", "trip_planner")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + ".AAAA"

	_, err = codec.Verify(tampered)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
}

func TestTokenCodec_RejectsWrongSecret(t *testing.T) {
	token, err := NewTokenCodec("vault-secret", time.Minute).Issue("p1", "trip_planner")
	require.NoError(t, err)

	_, err = NewTokenCodec("other-secret", time.Minute).Verify(token)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
}

func TestTokenCodec_RejectsExpiredToken(t *testing.T) {
	codec := NewTokenCodec("vault-secret", 10*time.Millisecond)
	token, err := codec.Issue("p1", "trip_planner")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid resume token")
}

func TestTokenCodec_RejectsForeignSigningMethod(t *testing.T) {
	codec := NewTokenCodec("vault-secret", time.Minute)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "p1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
}
