package wallet

import (
	"time"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

// OperatorRecord is the outward view of a TransactionRecord.
type OperatorRecord struct {
	ID             string    `json:"id"`
	OperatorType   string    `json:"operatorType"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	OperatorUserID string    `json:"operatorUserId"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Remark         string    `json:"remark"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ToOperatorRecords maps records in order. The result is never nil.
func ToOperatorRecords(records []ledger.TransactionRecord) []OperatorRecord {
	out := make([]OperatorRecord, 0, len(records))
	for _, r := range records {
		out = append(out, OperatorRecord{
			ID:             r.ID,
			OperatorType:   string(r.OperatorType),
			Amount:         r.Amount.DecimalString(),
			Currency:       r.Amount.Currency(),
			OperatorUserID: r.OperatorUserID,
			From:           r.From,
			To:             r.To,
			Remark:         r.Remark,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out
}
