// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package artifact

import (
	"crypto/md5"
	"fmt"
)

// ComputeContentChecksum computes the aggregate R-card value: the md5
// of the concatenation "<path><space><size>\n<bytes>" of every file in
// F-card order (§4.7, §8 invariant 8). contentOf resolves a file's
// hash to its raw bytes.
func ComputeContentChecksum(files []FileEntry, contentOf func(hash string) ([]byte, error)) (string, error) {
	h := md5.New()
	for _, f := range files {
		if f.Hash == "" {
			continue // file removed in this check-in carries no content
		}
		data, err := contentOf(f.Hash)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s %d\n", f.Path, len(data))
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
