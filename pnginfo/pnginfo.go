// Package pnginfo reads and writes the tEXt metadata chunks ComfyUI uses to
// embed prompts and workflows into generated PNG files. The standard library
// png codec drops ancillary chunks, so the chunk stream is handled directly.
package pnginfo

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// ErrNoMetadata reports a PNG without the requested metadata tag.
var ErrNoMetadata = errors.New("no metadata found in PNG")

// ReadTags collects the key/value pairs of every tEXt chunk in a PNG stream.
func ReadTags(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	tags := make(map[string]string)
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		if string(chunkType) == "tEXt" {
			chunkData := make([]byte, length)
			if _, err := io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}

			keywordEnd := bytes.IndexByte(chunkData, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			tags[string(chunkData[:keywordEnd])] = string(chunkData[keywordEnd+1:])
		} else {
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// Skip the CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}

	return tags, nil
}

// ReadTagsFromFile collects the tEXt tags of a PNG on disk.
func ReadTagsFromFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTags(file)
}

// EmbedTags returns a copy of an encoded PNG with one tEXt chunk per tag
// inserted directly after the IHDR chunk. Keys are written in sorted order so
// output is deterministic.
func EmbedTags(png []byte, tags map[string]string) ([]byte, error) {
	if len(png) < 8 || !bytes.Equal(png[:8], pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		if err := validKeyword(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out bytes.Buffer
	out.Write(pngSignature)

	rest := png[8:]
	inserted := false
	for len(rest) >= 8 {
		length := binary.BigEndian.Uint32(rest[:4])
		chunkEnd := 8 + int(length) + 4
		if chunkEnd > len(rest) {
			return nil, errors.New("truncated PNG chunk")
		}
		chunkType := string(rest[4:8])

		out.Write(rest[:chunkEnd])
		rest = rest[chunkEnd:]

		if !inserted && chunkType == "IHDR" {
			for _, k := range keys {
				writeTextChunk(&out, k, tags[k])
			}
			inserted = true
		}
	}
	if !inserted {
		return nil, errors.New("PNG has no IHDR chunk")
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing bytes after final PNG chunk")
	}
	return out.Bytes(), nil
}

func validKeyword(k string) error {
	if len(k) == 0 || len(k) > 79 {
		return fmt.Errorf("tEXt keyword %q must be 1-79 bytes", k)
	}
	if bytes.IndexByte([]byte(k), 0) != -1 {
		return fmt.Errorf("tEXt keyword %q contains a NUL byte", k)
	}
	return nil
}

func writeTextChunk(out *bytes.Buffer, keyword, text string) {
	data := make([]byte, 0, len(keyword)+1+len(text))
	data = append(data, keyword...)
	data = append(data, 0)
	data = append(data, text...)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	out.Write(length[:])
	out.WriteString("tEXt")
	out.Write(data)

	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	out.Write(sum[:])
}

// SelectPayload picks the "workflow" or "prompt" tag and returns it
// pretty-printed when it holds valid JSON, raw otherwise. Any value of which
// other than "prompt" selects the workflow tag.
func SelectPayload(tags map[string]string, which string) (string, error) {
	key := "workflow"
	if which == "prompt" {
		key = "prompt"
	}
	data, ok := tags[key]
	if !ok {
		return "", fmt.Errorf("no %q tag: %w", key, ErrNoMetadata)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, []byte(data), "", "  "); err != nil {
		return data, nil
	}
	return indented.String(), nil
}

// PreferredPayload returns the raw payload for resubmission, trying the
// "prompt" tag first and falling back to "workflow".
func PreferredPayload(tags map[string]string) (string, error) {
	if data, ok := tags["prompt"]; ok && data != "" {
		return data, nil
	}
	if data, ok := tags["workflow"]; ok && data != "" {
		return data, nil
	}
	return "", fmt.Errorf("expected a 'workflow' or 'prompt' tag: %w", ErrNoMetadata)
}
