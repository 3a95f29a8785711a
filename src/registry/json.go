package registry

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/ugorji/go/codec"
)

// EntryInfo is the JSON projection of one entry.
type EntryInfo struct {
	Identity             string `json:"identity"`
	InternalID           uint64 `json:"internalId"`
	Collateral           string `json:"collateral"`
	CollateralAmount     int64  `json:"collateralAmount"`
	OperatorReward       uint16 `json:"operatorReward"`
	RegisteredHeight     int    `json:"registeredHeight"`
	LastPaidHeight       int    `json:"lastPaidHeight"`
	Penalty              int    `json:"penalty"`
	BanHeight            int    `json:"banHeight"`
	RevocationReason     uint16 `json:"revocationReason"`
	Service              string `json:"service"`
	OwnerKey             string `json:"ownerKey"`
	OperatorKey          string `json:"operatorKey"`
	VotingKey            string `json:"votingKey"`
	PayoutScript         string `json:"payoutScript"`
	OperatorPayoutScript string `json:"operatorPayoutScript,omitempty"`
	ConfirmedHash        string `json:"confirmedHash,omitempty"`
}

// ListInfo is the JSON projection of a whole list.
type ListInfo struct {
	BlockHash            string      `json:"blockHash"`
	Height               int         `json:"height"`
	TotalRegisteredCount uint32      `json:"totalRegisteredCount"`
	ValidCount           int         `json:"validCount"`
	Entries              []EntryInfo `json:"entries"`
}

// Info builds the JSON projection of an entry.
func (e *Entry) Info() EntryInfo {
	info := EntryInfo{
		Identity:         e.Identity.String(),
		InternalID:       e.InternalID,
		Collateral:       e.Collateral.String(),
		CollateralAmount: e.State.CollateralAmount,
		OperatorReward:   e.OperatorReward,
		RegisteredHeight: e.State.RegisteredHeight,
		LastPaidHeight:   e.State.LastPaidHeight,
		Penalty:          e.State.Penalty,
		BanHeight:        e.State.BanHeight,
		RevocationReason: e.State.RevocationReason,
		Service:          e.State.Service.String(),
		OwnerKey:         e.State.OwnerKey.String(),
		OperatorKey:      hex.EncodeToString(e.State.OperatorKey.Bytes()),
		VotingKey:        e.State.VotingKey.String(),
		PayoutScript:     hex.EncodeToString(e.State.PayoutScript),
	}
	if len(e.State.OperatorPayoutScript) > 0 {
		info.OperatorPayoutScript = hex.EncodeToString(e.State.OperatorPayoutScript)
	}
	if !e.State.ConfirmedHash.IsZero() {
		info.ConfirmedHash = e.State.ConfirmedHash.String()
	}
	return info
}

// Marshal returns the canonical JSON encoding of the list. Entries are in
// internal-id order and map keys are sorted, so equal lists marshal to
// identical bytes.
func (l *List) Marshal() ([]byte, error) {
	info := ListInfo{
		BlockHash:            l.BlockHash.String(),
		Height:               l.Height,
		TotalRegisteredCount: l.TotalRegisteredCount,
		ValidCount:           l.ValidCount(),
		Entries:              make([]EntryInfo, 0, l.Count()),
	}
	l.ForEach(false, func(e *Entry) {
		info.Entries = append(info.Entries, e.Info())
	})
	sort.Slice(info.Entries, func(i, j int) bool {
		return info.Entries[i].InternalID < info.Entries[j].InternalID
	})

	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)
	if err := enc.Encode(info); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalListInfo parses a JSON projection produced by Marshal.
func UnmarshalListInfo(data []byte) (*ListInfo, error) {
	info := new(ListInfo)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(bytes.NewReader(data), jh)
	if err := dec.Decode(info); err != nil {
		return nil, err
	}
	return info, nil
}
