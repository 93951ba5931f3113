/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/numaproj/deltaflow/pkg/persistence"
)

const fileMagic = uint32(0xdf10c4e7)

// fileHeaderPreamble precedes the body of every file the store writes.
type fileHeaderPreamble struct {
	Magic    uint32
	Checksum uint32
	BodyLen  int64
}

func encodeFile(body []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	hp := fileHeaderPreamble{
		Magic:    fileMagic,
		Checksum: persistence.Checksum(body),
		BodyLen:  int64(len(body)),
	}
	if err := binary.Write(buf, binary.LittleEndian, hp); err != nil {
		return nil, err
	}
	if _, err := buf.Write(body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFile(data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	var hp fileHeaderPreamble
	if err := binary.Read(r, binary.LittleEndian, &hp); err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	if hp.Magic != fileMagic {
		return nil, fmt.Errorf("unexpected file magic %#x: %w", hp.Magic, persistence.ErrChecksumMismatch)
	}
	if hp.BodyLen < 0 || hp.BodyLen != int64(r.Len()) {
		return nil, fmt.Errorf("file body has %d bytes, header says %d: %w", r.Len(), hp.BodyLen, io.ErrUnexpectedEOF)
	}
	body := data[len(data)-r.Len():]
	if persistence.Checksum(body) != hp.Checksum {
		return nil, persistence.ErrChecksumMismatch
	}
	return body, nil
}
