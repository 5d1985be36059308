// Package chatscript loads chat scripts from TOML files.
//
// A script file looks like this:
//
//	name = "identify"
//	timeout = "10s"
//	abort = ["ERROR", "+CME ERROR: "]
//
//	[[chat]]
//	request = "ATE0"
//	response = ["OK"]
//
//	[[chat]]
//	request = "AT+CSQ"
//	response = [{ match = "+CSQ: ", separators = ",", print = true }]
//	timeout = "1s"
//
//	[[chat]]
//	response = ["OK"]
//
// Responses and abort entries are either a plain prefix or a table with
// the keys match, separators, partial, wildcards and print. A step without
// response waits for its timeout and moves on. Matches with print set pass
// their arguments to the PrintFunc given to Parse.
package chatscript

import (
	"fmt"
	"os"
	"time"

	gotoml "github.com/pelletier/go-toml/v2"

	"i4.energy/across/modemchat/chat"
)

// PrintFunc receives the arguments of matches flagged print. argv is only
// valid for the duration of the call.
type PrintFunc func(argv []string)

type scriptFile struct {
	Name    string     `toml:"name"`
	Timeout string     `toml:"timeout"`
	Abort   []any      `toml:"abort"`
	Chat    []chatStep `toml:"chat"`
}

type chatStep struct {
	Request  string `toml:"request"`
	Response []any  `toml:"response"`
	Timeout  string `toml:"timeout"`
}

// Load reads and parses the script file at path. The script is named after
// the file unless it sets a name.
func Load(path string, print PrintFunc) (*chat.Script, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	script, err := Parse(source, print)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if script.Name == "" {
		script.Name = path
	}
	return script, nil
}

// Parse converts TOML source to a validated script. print may be nil when
// no match sets print.
func Parse(source []byte, print PrintFunc) (*chat.Script, error) {
	if len(source) == 0 {
		return nil, ErrNoSourceData
	}

	var file scriptFile
	if err := gotoml.Unmarshal(source, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseToml, err)
	}

	timeout, err := parseDuration("timeout", file.Timeout)
	if err != nil {
		return nil, err
	}

	script := &chat.Script{
		Name:    file.Name,
		Timeout: timeout,
	}

	script.AbortMatches, err = parseMatches("abort", file.Abort, print)
	if err != nil {
		return nil, err
	}

	for i, step := range file.Chat {
		field := fmt.Sprintf("chat[%d]", i)

		sc := chat.ScriptChat{Request: step.Request}
		if sc.Timeout, err = parseDuration(field+".timeout", step.Timeout); err != nil {
			return nil, err
		}
		if sc.ResponseMatches, err = parseMatches(field+".response", step.Response, print); err != nil {
			return nil, err
		}
		script.ScriptChats = append(script.ScriptChats, sc)
	}

	if err := script.Validate(); err != nil {
		return nil, err
	}
	return script, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidField, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s: negative duration %s", ErrInvalidField, field, value)
	}
	return d, nil
}

func parseMatches(field string, values []any, print PrintFunc) ([]chat.Match, error) {
	if len(values) == 0 {
		return nil, nil
	}

	matches := make([]chat.Match, 0, len(values))
	for i, value := range values {
		m, err := parseMatch(value, print)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %w", ErrInvalidField, field, i, err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func parseMatch(value any, print PrintFunc) (chat.Match, error) {
	switch v := value.(type) {
	case string:
		return chat.NewMatch(v, "", nil), nil
	case map[string]any:
		return parseMatchTable(v, print)
	default:
		return chat.Match{}, fmt.Errorf("want string or table, got %T", value)
	}
}

func parseMatchTable(table map[string]any, print PrintFunc) (chat.Match, error) {
	var m chat.Match
	var doPrint bool

	for key, value := range table {
		var ok bool
		switch key {
		case "match":
			m.Match, ok = value.(string)
		case "separators":
			m.Separators, ok = value.(string)
		case "partial":
			m.Partial, ok = value.(bool)
		case "wildcards":
			m.Wildcards, ok = value.(bool)
		case "print":
			doPrint, ok = value.(bool)
		default:
			return chat.Match{}, fmt.Errorf("unknown key %q", key)
		}
		if !ok {
			return chat.Match{}, fmt.Errorf("key %q has type %T", key, value)
		}
	}

	if doPrint {
		if print == nil {
			return chat.Match{}, fmt.Errorf("match %q prints but no printer is set", m.Match)
		}
		m.Callback = func(_ *chat.Chat, argv []string, _ any) {
			print(argv)
		}
	}
	return m, nil
}
