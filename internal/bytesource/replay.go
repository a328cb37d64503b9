package bytesource

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/kallio-labs/seqbook/internal/wire"
)

// Replay is a Source fed from a CSV file of (kind, volume, price) rows,
// encoded into correctly-framed bytes exactly as Mock does. It exists for
// local benchmarking and repeatable load generation against cmd/ingestd,
// never for production ingestion, mirroring the file-to-message-sequence
// helper in this project's reference material.
//
// Expected columns: kind (add|withdraw|market), volume (signed integer),
// price (unsigned integer, ignored for market rows).
type Replay struct {
	*Mock
}

// LoadReplay reads all rows of r into a Replay source.
func LoadReplay(r io.Reader) (*Replay, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	orders := make([]MockOrder, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("bytesource: row %d has %d columns, want 3", i, len(row))
		}
		kind, err := parseKind(row[0])
		if err != nil {
			return nil, fmt.Errorf("bytesource: row %d: %w", i, err)
		}
		vol, err := strconv.ParseInt(row[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bytesource: row %d volume: %w", i, err)
		}
		price, err := strconv.ParseUint(row[2], 10, 32)
		if err != nil && kind != wire.KindMarket {
			return nil, fmt.Errorf("bytesource: row %d price: %w", i, err)
		}
		orders = append(orders, MockOrder{Kind: kind, Volume: int32(vol), Price: uint32(price)})
	}

	return &Replay{Mock: NewMock(orders)}, nil
}

func parseKind(s string) (wire.Kind, error) {
	switch s {
	case "add":
		return wire.KindAddLimit, nil
	case "withdraw":
		return wire.KindWithdrawLimit, nil
	case "market":
		return wire.KindMarket, nil
	default:
		return wire.KindNone, fmt.Errorf("unknown kind %q", s)
	}
}
