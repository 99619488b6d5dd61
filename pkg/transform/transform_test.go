package transform

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
)

func init() {
	scryptN = 1 << 10
}

var (
	upload   = Context{Mode: ModeTransform, Target: "test"}
	download = Context{Mode: ModeRestore, Target: "test"}
)

func roundTrip(t *testing.T, fn Func, payload []byte) []byte {
	t.Helper()
	ctx := context.Background()
	enc, err := fn(ctx, payload, upload)
	require.NoError(t, err)
	dec, err := fn(ctx, enc, download)
	require.NoError(t, err)
	return dec
}

func TestSafe(t *testing.T) {
	ctx := context.Background()

	out, err := Safe(nil)(ctx, []byte("x"), upload)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)

	nilResult := func(context.Context, []byte, Context) ([]byte, error) { return nil, nil }
	out, err = Safe(nilResult)(ctx, []byte("x"), upload)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	failing := func(context.Context, []byte, Context) ([]byte, error) { return nil, errors.New("boom") }
	_, err = Safe(failing)(ctx, []byte("x"), upload)
	require.Error(t, err)
	assert.True(t, errdefs.IsTransform(err))
}

func TestNamedTransforms(t *testing.T) {
	payload := bytes.Repeat([]byte("deploy all the things "), 50)

	for _, name := range []string{"identity", "base64", "gzip", "zstd"} {
		t.Run(name, func(t *testing.T) {
			fn, ok := Get(name)
			require.True(t, ok)
			assert.Equal(t, payload, roundTrip(t, fn, payload))
		})
	}
}

func TestChainOrder(t *testing.T) {
	var calls []string
	tag := func(name string) Func {
		return func(_ context.Context, data []byte, tctx Context) ([]byte, error) {
			calls = append(calls, tctx.Mode.String()+":"+name)
			return data, nil
		}
	}

	fn := Chain(tag("a"), tag("b"))
	roundTrip(t, fn, []byte("x"))
	assert.Equal(t, []string{"transform:a", "transform:b", "restore:b", "restore:a"}, calls)
}

func TestParse(t *testing.T) {
	fn, err := Parse("gzip, base64")
	require.NoError(t, err)

	payload := []byte("hello hello hello")
	enc, err := fn(context.Background(), payload, upload)
	require.NoError(t, err)
	assert.NotContains(t, string(enc), "\x00", "base64 runs last on upload")
	assert.Equal(t, payload, roundTrip(t, fn, payload))

	_, err = Parse("gzip,rot13")
	assert.ErrorContains(t, err, "rot13")

	fn, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, payload, roundTrip(t, fn, payload))
}

func TestWithPassword(t *testing.T) {
	payloads := map[string][]byte{
		"short":  []byte("a"),
		"text":   []byte("the quick brown fox"),
		"binary": bytes.Repeat([]byte{0, 1, 2, 255}, 1000),
	}

	for _, algo := range append(Algorithms(), "") {
		for name, payload := range payloads {
			t.Run(algo+"/"+name, func(t *testing.T) {
				fn, err := WithPassword(nil, PasswordOptions{Password: "secret", Algorithm: algo})
				require.NoError(t, err)
				assert.Equal(t, payload, roundTrip(t, fn, payload))
			})
		}
	}
}

func TestWithPasswordComposition(t *testing.T) {
	ctx := context.Background()
	gz, _ := Get("gzip")
	fn, err := WithPassword(gz, PasswordOptions{Password: "secret"})
	require.NoError(t, err)

	payload := []byte(strings.Repeat("compress me ", 100))
	enc, err := fn(ctx, payload, upload)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(enc, magic))
	assert.Less(t, len(enc), len(payload), "compression runs before encryption")

	dec, err := fn(ctx, enc, download)
	require.NoError(t, err)
	assert.Equal(t, payload, dec)
}

func TestWithPasswordFreshIV(t *testing.T) {
	ctx := context.Background()
	fn, err := WithPassword(nil, PasswordOptions{Password: "secret"})
	require.NoError(t, err)

	a, err := fn(ctx, []byte("same"), upload)
	require.NoError(t, err)
	b, err := fn(ctx, []byte("same"), upload)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestWithPasswordFailures(t *testing.T) {
	ctx := context.Background()

	_, err := WithPassword(nil, PasswordOptions{Password: "x", Algorithm: "des"})
	assert.Error(t, err)

	for _, algo := range Algorithms() {
		t.Run(algo, func(t *testing.T) {
			right, err := WithPassword(nil, PasswordOptions{Password: "right", Algorithm: algo})
			require.NoError(t, err)
			wrong, err := WithPassword(nil, PasswordOptions{Password: "wrong", Algorithm: algo})
			require.NoError(t, err)

			enc, err := right(ctx, []byte("payload"), upload)
			require.NoError(t, err)

			_, err = wrong(ctx, enc, download)
			require.Error(t, err)
			assert.True(t, errdefs.IsTransform(err))

			_, err = right(ctx, []byte("plain text"), download)
			require.Error(t, err)
			assert.True(t, errdefs.IsTransform(err))
			assert.True(t, errors.Is(err, ErrNotEncrypted))
		})
	}
}

func TestWithPasswordNoPassword(t *testing.T) {
	fn, err := WithPassword(nil, PasswordOptions{})
	require.NoError(t, err)
	out, err := fn(context.Background(), []byte("plain"), upload)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), out)

	empty, err := WithPassword(nil, PasswordOptions{Password: "x"})
	require.NoError(t, err)
	out, err = empty(context.Background(), []byte{}, upload)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWithPasswordEmptyPayload(t *testing.T) {
	ctx := context.Background()

	calls := map[Mode]int{}
	counting := func(_ context.Context, data []byte, tctx Context) ([]byte, error) {
		calls[tctx.Mode]++
		return data, nil
	}
	fn, err := WithPassword(counting, PasswordOptions{Password: "secret"})
	require.NoError(t, err)

	out, err := fn(ctx, []byte{}, upload)
	require.NoError(t, err)
	assert.Empty(t, out, "nothing to encrypt")
	out, err = fn(ctx, []byte{}, download)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, map[Mode]int{ModeTransform: 1, ModeRestore: 1}, calls, "base transform should still run")

	gz, _ := Get("gzip")
	fn, err = WithPassword(gz, PasswordOptions{Password: "secret"})
	require.NoError(t, err)
	enc, err := fn(ctx, []byte{}, upload)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(enc, magic), "a non-empty transformed payload is encrypted")
	dec, err := fn(ctx, enc, download)
	require.NoError(t, err)
	assert.Empty(t, dec)
}
