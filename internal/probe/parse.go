package probe

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	portSuffix = regexp.MustCompile(`:(\d+)$`)
	ssOwnerPID = regexp.MustCompile(`pid=(\d+)`)
)

const (
	lstartLayout  = "Mon Jan 2 15:04:05 2006"
	creationStamp = "20060102150405"
)

func outputLines(out []byte) []string {
	return strings.FieldsFunc(string(out), func(r rune) bool {
		return r == '\n' || r == '\r'
	})
}

func portOf(address string) (int, bool) {
	m := portSuffix.FindStringSubmatch(address)
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

func positiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ParseSS parses `ss -lptn` output:
//
//	State  Recv-Q Send-Q Local Address:Port Peer Address:Port Process
//	LISTEN 0      511    *:5173             *:*               users:(("node",pid=4121,fd=23))
func ParseSS(out []byte) map[int]int {
	ports := make(map[int]int)
	for _, line := range outputLines(out) {
		if strings.HasPrefix(line, "State") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 6 {
			continue
		}
		port, ok := portOf(parts[3])
		if !ok {
			continue
		}
		m := ssOwnerPID.FindStringSubmatch(strings.Join(parts[5:], " "))
		if m == nil {
			continue
		}
		if pid, ok := positiveInt(m[1]); ok {
			ports[port] = pid
		}
	}
	return ports
}

// ParseLsof parses `lsof -iTCP -sTCP:LISTEN -P -n` output:
//
//	COMMAND  PID USER FD  TYPE DEVICE SIZE/OFF NODE NAME
//	node    4121 dev  23u IPv6 0x1234 0t0      TCP  *:5173 (LISTEN)
func ParseLsof(out []byte) map[int]int {
	ports := make(map[int]int)
	for _, line := range outputLines(out) {
		if strings.HasPrefix(line, "COMMAND") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 9 {
			continue
		}
		pid, ok := positiveInt(parts[1])
		if !ok {
			continue
		}
		if port, ok := portOf(parts[8]); ok {
			ports[port] = pid
		}
	}
	return ports
}

// ParseNetstat parses `netstat -ano -p TCP` output:
//
//	Proto  Local Address    Foreign Address  State      PID
//	TCP    0.0.0.0:5173     0.0.0.0:0        LISTENING  4121
func ParseNetstat(out []byte) map[int]int {
	ports := make(map[int]int)
	for _, line := range outputLines(out) {
		parts := strings.Fields(line)
		if len(parts) < 5 || parts[3] != "LISTENING" {
			continue
		}
		pid, ok := positiveInt(parts[4])
		if !ok {
			continue
		}
		if port, ok := portOf(parts[1]); ok {
			ports[port] = pid
		}
	}
	return ports
}

// ParsePS parses `ps -axo pid=,lstart=,command=` output. The five lstart
// tokens are converted to a creation stamp; the remainder of the line is the
// command with its spacing preserved.
func ParsePS(out []byte) []ProcessInfo {
	var procs []ProcessInfo
	for _, line := range outputLines(out) {
		fields, rest := splitFields(line, 6)
		if len(fields) < 6 || rest == "" {
			continue
		}
		pid, ok := positiveInt(fields[0])
		if !ok {
			continue
		}
		procs = append(procs, ProcessInfo{
			PID:          pid,
			Command:      rest,
			CreationDate: LstartStamp(strings.Join(fields[1:6], " ")),
		})
	}
	return procs
}

// LstartStamp converts a ps lstart value such as "Mon Oct 19 04:11:00 2026"
// to YYYYMMDDHHMMSS. It returns "" when the value does not parse.
func LstartStamp(value string) string {
	t, err := time.Parse(lstartLayout, strings.Join(strings.Fields(value), " "))
	if err != nil {
		return ""
	}
	return t.Format(creationStamp)
}

// ParseWMICProcesses parses `wmic process get CommandLine,CreationDate,Name,ProcessId
// /format:csv` output. Columns are Node,CommandLine,CreationDate,Name,ProcessId;
// the command line may itself contain commas so fields are taken from both ends.
func ParseWMICProcesses(out []byte) []ProcessInfo {
	var procs []ProcessInfo
	for _, line := range outputLines(out) {
		fields := strings.Split(strings.TrimSpace(line), ",")
		n := len(fields)
		if n < 5 {
			continue
		}
		pid, ok := positiveInt(fields[n-1])
		if !ok {
			continue
		}
		info := ProcessInfo{
			PID:          pid,
			Command:      strings.TrimSpace(strings.Join(fields[1:n-3], ",")),
			CreationDate: strings.TrimSpace(fields[n-3]),
			Name:         strings.TrimSpace(fields[n-2]),
		}
		if info.Command == "" {
			info.Command = info.Name
		}
		procs = append(procs, info)
	}
	return procs
}

// ParseWMICCommandLine extracts the value of a `CommandLine=` line from
// `wmic ... /format:list` output.
func ParseWMICCommandLine(out []byte) string {
	for _, line := range outputLines(out) {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "CommandLine="); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// ParseCmdline joins a NUL separated /proc/<pid>/cmdline buffer.
func ParseCmdline(data []byte) string {
	parts := bytes.Split(data, []byte{0})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		out = append(out, string(part))
	}
	return strings.Join(out, " ")
}

// Matches reports whether info matches any token. Tokens are matched as
// case-sensitive substrings of the command line. When the platform reports an
// image name, a token also matches that name directly or with suffix
// appended (node matches node.exe); image names compare case-insensitively.
func Matches(info ProcessInfo, tokens []string, suffix string) bool {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.Contains(info.Command, token) {
			return true
		}
		if info.Name == "" {
			continue
		}
		if strings.EqualFold(info.Name, token) || (suffix != "" && strings.EqualFold(info.Name, token+suffix)) {
			return true
		}
	}
	return false
}

func splitFields(line string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	rest := strings.TrimLeft(line, " \t")
	for len(fields) < n && rest != "" {
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			fields = append(fields, rest)
			rest = ""
			break
		}
		fields = append(fields, rest[:end])
		rest = strings.TrimLeft(rest[end:], " \t")
	}
	return fields, strings.TrimSpace(rest)
}
