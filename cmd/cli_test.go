//go:build linux
// +build linux

package cmd

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/fzft/go-reactor/reactor"
	"github.com/fzft/go-reactor/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoCliParseArgs(t *testing.T) {
	cli := NewEchoCli()
	require.NoError(t, cli.ParseArgs(nil))
	assert.Equal(t, EchoCliDefaultHost, cli.config.hostIp)
	assert.Equal(t, EchoCliDefaultPort, cli.config.hostPort)

	require.NoError(t, cli.ParseArgs([]string{"10.0.0.1", "9000"}))
	assert.Equal(t, "10.0.0.1", cli.config.hostIp)
	assert.Equal(t, 9000, cli.config.hostPort)

	assert.Error(t, cli.ParseArgs([]string{"localhost", "port"}))
	assert.Error(t, cli.ParseArgs([]string{"localhost", "70000"}))
	assert.Error(t, cli.ParseArgs([]string{"a", "1", "b"}))
}

func TestEchoCliPipe(t *testing.T) {
	s, err := server.New(server.Config{ThreadNum: 1}, reactor.Callbacks{
		OnMessage: func(c *reactor.Connection) error {
			_, err := c.SendBuffer(c.InBuffer())
			return err
		},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	var out bytes.Buffer
	cli := NewEchoCli()
	cli.out = &out
	require.NoError(t, cli.ParseArgs([]string{"127.0.0.1", strconv.Itoa(s.Port())}))
	require.NoError(t, cli.connect())
	defer cli.conn.Close()

	require.NoError(t, cli.pipe(strings.NewReader("hello\n\nreactor\n")))
	assert.Equal(t, "server echo: hello\nserver echo: reactor\n", out.String())
}

func TestGetDotfilePath(t *testing.T) {
	t.Setenv(EchoCliHisFileEnv, "/tmp/history")
	assert.Equal(t, "/tmp/history", getDotfilePath(EchoCliHisFileEnv, EchoCliHisFileDefault))

	t.Setenv(EchoCliHisFileEnv, "/dev/null")
	assert.Equal(t, "", getDotfilePath(EchoCliHisFileEnv, EchoCliHisFileDefault))

	t.Setenv(EchoCliHisFileEnv, "")
	t.Setenv("HOME", "/home/reactor")
	assert.Equal(t, "/home/reactor/"+EchoCliHisFileDefault, getDotfilePath(EchoCliHisFileEnv, EchoCliHisFileDefault))
}
