package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// HS256 wants the key to be at least as long as the hash
const SecretKeyBytesLen = 32

func main() {
	if err := run(os.Stdout, rand.Reader, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// Print fresh key to use as SECRET_KEY, ACCESS_KEY or REFRESH_KEY
func run(w io.Writer, random io.Reader, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "n", SecretKeyBytesLen, "Key length in bytes")
	encoding := fs.StringP("encoding", "e", "hex", "Output encoding (hex, base64)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *size < SecretKeyBytesLen {
		return fmt.Errorf("key must be at least %d bytes, got %d", SecretKeyBytesLen, *size)
	}

	b := make([]byte, *size)
	if _, err := io.ReadFull(random, b); err != nil {
		return err
	}

	switch *encoding {
	case "hex":
		_, err := fmt.Fprintln(w, hex.EncodeToString(b))
		return err
	case "base64":
		_, err := fmt.Fprintln(w, base64.RawURLEncoding.EncodeToString(b))
		return err
	default:
		return fmt.Errorf("unknown encoding %q", *encoding)
	}
}
