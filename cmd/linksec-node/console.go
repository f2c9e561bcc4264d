package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/link"
)

const consoleHelp = `commands:
  send <dest> <text>   dest: 4 hex digits (short, FFFF = broadcast) or 16 (extended)
  set_key <hex>        install a 16-byte link key
  unset_key            remove the link key
  keys                 list installed keys
  neighbors            list neighbors
  stats                show frame counters`

var errUsage = errors.New("usage error, type 'help'")

// runCommand executes one console line against ep.
func runCommand(ep *link.Endpoint, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "help":
		return consoleHelp, nil

	case "send":
		if len(fields) < 3 {
			return "", errUsage
		}
		dest, err := parseDest(fields[1])
		if err != nil {
			return "", err
		}
		text := strings.Join(fields[2:], " ")
		if err := ep.Send(dest, []byte(text)); err != nil {
			return "", err
		}
		return fmt.Sprintf("sent %d bytes", len(text)), nil

	case "set_key":
		if len(fields) != 2 {
			return "", errUsage
		}
		key, err := hex.DecodeString(fields[1])
		if err != nil {
			return "", fmt.Errorf("invalid key: %w", err)
		}
		if err := ep.SetKey(key); err != nil {
			return "", err
		}
		return "key set", nil

	case "unset_key":
		if err := ep.UnsetKey(); err != nil {
			return "", err
		}
		return "key removed", nil

	case "keys":
		var b strings.Builder
		for _, id := range ep.Keys() {
			fmt.Fprintln(&b, id)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "neighbors":
		var b strings.Builder
		for _, n := range ep.Neighbors().All() {
			fmt.Fprintf(&b, "%016X short=%04X addr=%v\n", n.ExtAddress, n.ShortAddress, n.Addr)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "stats":
		s := ep.Stats()
		return fmt.Sprintf("sent=%d received=%d dropped: malformed=%d filtered=%d security=%d replay=%d counter=%d",
			s.Sent, s.Received, s.DroppedMalformed, s.DroppedFiltered, s.DroppedSecurity, s.DroppedReplay,
			ep.FrameCounter()), nil
	}

	return "", fmt.Errorf("unknown command %q", fields[0])
}

// parseDest reads a destination: 4 hex digits for a short address,
// 16 for an extended address.
func parseDest(s string) (frame.Address, error) {
	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return frame.Address{}, fmt.Errorf("invalid short address %q", s)
		}
		return frame.ShortAddress(uint16(v)), nil
	case 16:
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return frame.Address{}, fmt.Errorf("invalid extended address %q", s)
		}
		return frame.ExtendedAddress(v), nil
	}
	return frame.Address{}, fmt.Errorf("destination %q must be 4 or 16 hex digits", s)
}
