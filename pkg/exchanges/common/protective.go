package common

import (
	"strconv"
	"strings"
	"time"
)

// Client order ids are capped at 40 characters on BingX.
const maxClientIDLen = 40

// protectivePrefix identifies the stop-loss or take-profit orders of one
// position: a type marker, the position id without dashes, then a dash.
func protectivePrefix(positionID string, t OrderType) string {
	marker := "sl"
	if t == OrderTypeTakeProfitMarket {
		marker = "tp"
	}
	id := strings.ReplaceAll(positionID, "-", "")
	if limit := maxClientIDLen - len(marker) - 6; len(id) > limit {
		id = id[:limit]
	}
	return marker + id + "-"
}

// ProtectiveClientID tags a protective order with the position it guards. The
// suffix keeps consecutive placements for the same position distinct.
func ProtectiveClientID(positionID string, t OrderType) string {
	suffix := strconv.FormatInt(time.Now().UnixMilli()%60466176, 36) // 36^5
	return protectivePrefix(positionID, t) + suffix
}

// OwnedBy reports whether o is a protective order placed for positionID.
func (o OpenOrder) OwnedBy(positionID string) bool {
	return o.Type.IsProtective() && strings.HasPrefix(o.ClientID, protectivePrefix(positionID, o.Type))
}
