package at

import (
	"bufio"
	"bytes"
	"strings"
)

// NewSplitter returns a splitter for tokenizing AT command modem responses.
// It uses the signature of bufio.SplitFunc so it can be directly used with
// bufio.Scanner, and it is also what the chat framer uses to find lines in
// its receive buffer.
//
// Tokens end at delimiter, which is consumed and not part of the token.
// Each of prompts is returned as a token of its own when the data starts
// with it, since modems send prompts such as the SMS input prompt ("> ")
// without a trailing delimiter.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
//
// NewSplitter panics if delimiter is empty.
func NewSplitter(delimiter []byte, prompts ...[]byte) bufio.SplitFunc {
	if len(delimiter) == 0 {
		panic("at: empty delimiter")
	}
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}

		for _, prompt := range prompts {
			if len(prompt) > 0 && bytes.HasPrefix(data, prompt) {
				return len(prompt), data[0:len(prompt)], nil
			}
		}

		if i := bytes.Index(data, delimiter); i >= 0 {
			return i + len(delimiter), data[0:i], nil
		}

		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// Splitter splits the input by CRLF line endings and also recognizes the
// SMS input prompt ("> ").
//
// Important: This splitter assumes "No Echo" mode (ATE0). If echo is enabled,
// command echoes are returned as ordinary tokens preceding the response.
var Splitter = NewSplitter([]byte(CRLF), []byte(Prompt))

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, Connect):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg), strings.HasPrefix(line, UrcMessageReport), line == UrcCall:
		return TypeURC
	default:
		return TypeData
	}
}
