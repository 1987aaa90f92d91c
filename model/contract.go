// Copyright 2018 MPI-SWS and Valentin Wuestholz

// This file is part of Sifter.
//
// Sifter is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Sifter is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Sifter.  If not, see <https://www.gnu.org/licenses/>.

package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// libraryAddress replaces unlinked library placeholders.
const libraryAddress = "1000000000000000000000000000000000000010"

// CompiledContract is one entry of solc --combined-json output.
type CompiledContract struct {
	Binary    string          `json:"bin-runtime"`
	SourceMap string          `json:"srcmap-runtime"`
	ABI       json.RawMessage `json:"abi,omitempty"`
}

// CombinedOutput is the document written by solc --combined-json.
type CombinedOutput struct {
	Contracts map[string]*CompiledContract `json:"contracts"`
}

// ReadCombinedOutput decodes solc --combined-json output.
func ReadCombinedOutput(r io.Reader) (*CombinedOutput, error) {
	var out CombinedOutput
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding combined json: %w", err)
	}
	return &out, nil
}

// SanitizeLibraries replaces every library placeholder of the form
// __name___ by a dummy address of the same length.
func SanitizeLibraries(code string) string {
	var sb strings.Builder
	for i := 0; i < len(code); i++ {
		if code[i] == '_' {
			sb.WriteString(libraryAddress)
			i += len(libraryAddress) - 1
			continue
		}
		sb.WriteByte(code[i])
	}
	return sb.String()
}

// DecodeCode turns hex encoded runtime code into bytes. A leading 0x and
// surrounding whitespace are accepted.
func DecodeCode(code string) ([]byte, error) {
	s := strings.TrimSpace(code)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hexutil.Decode("0x" + SanitizeLibraries(s))
	if err != nil {
		return nil, fmt.Errorf("decoding code: %w", err)
	}
	return b, nil
}

// Code returns the decoded runtime code.
func (c *CompiledContract) Code() ([]byte, error) {
	return DecodeCode(c.Binary)
}

// MethodNames maps the selectors declared in the contract ABI to method
// signatures. Contracts without an ABI yield an empty map.
func (c *CompiledContract) MethodNames() (map[uint32]string, error) {
	res := map[uint32]string{}
	raw := bytes.TrimSpace(c.ABI)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return res, nil
	}
	// Older compilers embed the ABI as a JSON string.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding abi: %w", err)
		}
		raw = []byte(s)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing abi: %w", err)
	}
	for _, m := range parsed.Methods {
		if len(m.ID) == 4 {
			res[binary.BigEndian.Uint32(m.ID)] = m.Sig
		}
	}
	return res, nil
}
