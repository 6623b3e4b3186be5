package hostloop

import (
	"io"
	"testing"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveApplicationOptions(t *testing.T) {
	cfg, err := resolveApplicationOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.logger)

	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard))).Logger()
	cfg, err = resolveApplicationOptions([]Option{nil, WithLogger(logger), nil})
	require.NoError(t, err)
	assert.Same(t, logger, cfg.logger)
}
