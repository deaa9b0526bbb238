package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fzft/go-reactor/deps/linenoise"
	"github.com/mattn/go-isatty"
)

var (
	EchoCliDefaultHost     = "127.0.0.1"
	EchoCliDefaultPort     = 8080
	EchoCliHisFileEnv      = "ECHOCLI_HISTFILE"
	EchoCliHisFileDefault  = ".echocli_history"
	EchoCliDefaultDeadline = 5 * time.Second
)

type EchoCliCfg struct {
	hostIp      string
	hostPort    int
	interactive bool
	deadline    time.Duration
}

// EchoCli sends every input line to an echo server and prints what comes back.
type EchoCli struct {
	config *EchoCliCfg
	conn   net.Conn
	reader *bufio.Reader
	out    io.Writer
}

func NewEchoCli() *EchoCli {
	return &EchoCli{
		config: &EchoCliCfg{
			hostIp:   EchoCliDefaultHost,
			hostPort: EchoCliDefaultPort,
			deadline: EchoCliDefaultDeadline,
		},
		out: os.Stdout,
	}
}

func (cli *EchoCli) Usage(err bool) {
	var out io.Writer
	if err {
		out = os.Stderr
	} else {
		out = os.Stdout
	}

	fmt.Fprintf(out, `Usage: echo-cli [hostname [port]]
  hostname   Server hostname (default: %s).
  port       Server port (default: %d).

Each input line is sent to the server and the reply is printed.
Type "quit" or "exit" to leave, "clear" to clear the screen.
`, EchoCliDefaultHost, EchoCliDefaultPort)
}

// ParseArgs reads the positional host and port arguments.
func (cli *EchoCli) ParseArgs(args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("too many arguments")
	}
	if len(args) > 0 {
		if args[0] == "-h" || args[0] == "--help" {
			return fmt.Errorf("help requested")
		}
		cli.config.hostIp = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port number %q", args[1])
		}
		cli.config.hostPort = port
	}
	return nil
}

// Run connects and serves the interactive prompt when stdin is a terminal, or forwards
// piped lines otherwise.
func (cli *EchoCli) Run() error {
	if err := cli.connect(); err != nil {
		return err
	}
	defer cli.conn.Close()

	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		cli.config.interactive = true
		return cli.repl()
	}
	return cli.pipe(os.Stdin)
}

func (cli *EchoCli) connect() error {
	addr := net.JoinHostPort(cli.config.hostIp, strconv.Itoa(cli.config.hostPort))
	conn, err := net.DialTimeout("tcp", addr, cli.config.deadline)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	cli.conn = conn
	cli.reader = bufio.NewReader(conn)
	return nil
}

// roundTrip sends one line and waits for the echoed line.
func (cli *EchoCli) roundTrip(line string) (string, error) {
	if err := cli.conn.SetDeadline(time.Now().Add(cli.config.deadline)); err != nil {
		return "", err
	}
	if _, err := io.WriteString(cli.conn, line+"\n"); err != nil {
		return "", err
	}
	reply, err := cli.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

func (cli *EchoCli) repl() error {
	ln := linenoise.New()
	defer ln.Close()

	historyFile := getDotfilePath(EchoCliHisFileEnv, EchoCliHisFileDefault)
	if historyFile != "" {
		if err := ln.HistoryLoad(historyFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load history: %s\n", err.Error())
		}
	}

	prompt := fmt.Sprintf("%s:%d> ", cli.config.hostIp, cli.config.hostPort)
	for {
		line, err := ln.Prompt(prompt)
		if err != nil {
			if err == linenoise.ErrAborted || linenoise.IsEOF(err) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		if historyFile != "" {
			ln.HistorySave(historyFile)
		}

		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			return nil
		} else if strings.EqualFold(line, "clear") {
			ln.ClearScreen()
			continue
		}

		if err := cli.send(line); err != nil {
			return err
		}
	}
}

func (cli *EchoCli) pipe(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := cli.send(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (cli *EchoCli) send(line string) error {
	reply, err := cli.roundTrip(line)
	if err != nil {
		return fmt.Errorf("server closed the connection: %w", err)
	}
	fmt.Fprintf(cli.out, "server echo: %s\n", reply)
	return nil
}

func getDotfilePath(envOverride, dotFilename string) string {
	var dotPath string

	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		dotPath = path
	} else {
		home := os.Getenv("HOME")
		if home != "" {
			dotPath = fmt.Sprintf("%s/%s", home, dotFilename)
		}
	}
	return dotPath
}
