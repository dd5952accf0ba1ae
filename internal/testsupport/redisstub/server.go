// Package redisstub runs a minimal in-process RESP server so queue tests can
// exercise a real client connection without an external Redis. Only the
// commands the publisher issues are implemented.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	streams  map[string]*redisStream
	lastMS   int64
	lastSeq  int64
	closed   chan struct{}
}

type redisStream struct {
	entries []streamEntry
}

type streamEntry struct {
	ms     int64
	seq    int64
	values map[string]string
}

func (e streamEntry) id() string {
	return fmt.Sprintf("%d-%d", e.ms, e.seq)
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		streams:  make(map[string]*redisStream),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

// EntryCount reports how many entries a stream holds.
func (s *Server) EntryCount(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[stream]
	if !ok {
		return 0
	}
	return len(strm.entries)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		var writeErr error
		switch cmd {
		case "PING":
			writeErr = writeSimpleString(writer, "PONG")
		case "HELLO":
			// Forces the client back to RESP2.
			writeErr = writeError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT":
			writeErr = writeSimpleString(writer, "OK")
		case "AUTH":
			supplied := ""
			switch len(args) {
			case 2:
				supplied = args[1]
			case 3:
				supplied = args[2]
			default:
				writeErr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			}
			if writeErr == nil {
				if s.opts.Password == "" || supplied == s.opts.Password {
					authenticated = true
					writeErr = writeSimpleString(writer, "OK")
				} else {
					writeErr = writeError(writer, "WRONGPASS invalid username-password pair")
				}
			}
		case "SELECT":
			writeErr = writeSimpleString(writer, "OK")
		case "XADD":
			if !authenticated {
				writeErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			writeErr = s.handleXAdd(writer, args)
		case "XRANGE":
			if !authenticated {
				writeErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			writeErr = s.handleXRange(writer, args)
		default:
			writeErr = writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0]))
		}
		if writeErr != nil {
			return
		}
	}
}

func (s *Server) handleXAdd(writer *bufio.Writer, args []string) error {
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'")
	}
	stream := args[1]
	values := make(map[string]string)
	for i := 3; i+1 < len(args); i += 2 {
		values[args[i]] = args[i+1]
	}
	s.mu.Lock()
	entry := streamEntry{ms: time.Now().UnixMilli(), values: values}
	if entry.ms == s.lastMS {
		s.lastSeq++
	} else {
		s.lastMS = entry.ms
		s.lastSeq = 0
	}
	entry.seq = s.lastSeq
	strm, ok := s.streams[stream]
	if !ok {
		strm = &redisStream{}
		s.streams[stream] = strm
	}
	strm.entries = append(strm.entries, entry)
	id := entry.id()
	s.mu.Unlock()
	return writeBulkString(writer, id)
}

func (s *Server) handleXRange(writer *bufio.Writer, args []string) error {
	if len(args) != 4 {
		return writeError(writer, "ERR wrong number of arguments for 'xrange'")
	}
	startMS, startSeq, err := parseRangeID(args[2], 0, 0)
	if err != nil {
		return writeError(writer, "ERR Invalid stream ID specified as stream command argument")
	}
	s.mu.Lock()
	var matched []streamEntry
	if strm, ok := s.streams[args[1]]; ok {
		for _, entry := range strm.entries {
			if entry.ms > startMS || (entry.ms == startMS && entry.seq >= startSeq) {
				matched = append(matched, entry)
			}
		}
	}
	s.mu.Unlock()
	records := make([]interface{}, 0, len(matched))
	for _, entry := range matched {
		records = append(records, []interface{}{entry.id(), flatten(entry.values)})
	}
	return writeArray(writer, records)
}

func parseRangeID(raw string, defaultMS, defaultSeq int64) (int64, int64, error) {
	if raw == "-" {
		return 0, 0, nil
	}
	if raw == "+" {
		return defaultMS, defaultSeq, nil
	}
	msPart, seqPart, found := strings.Cut(raw, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return ms, 0, nil
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return ms, seq, nil
}

func flatten(values map[string]string) []interface{} {
	out := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		out = append(out, k, v)
	}
	return out
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if err := writeArrayRaw(w, values); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayRaw(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v); err != nil {
				return err
			}
		case []interface{}:
			if err := writeArrayRaw(w, v); err != nil {
				return err
			}
		default:
			formatted := fmt.Sprint(v)
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(formatted), formatted); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
