package airdrop

import (
	"github.com/ethereum/go-ethereum/common"

	"zkdrop/internal/logger"
)

// Emitter receives notifications about registry and claim activity.
// Emitters observe; they never influence control flow.
type Emitter interface {
	AirdropCreated(id uint64, record Airdrop)
	AirdropUpdated(id uint64, record Airdrop)
	AirdropClaimed(id uint64, receiver common.Address)
}

// LogEmitter writes notifications to the process log.
type LogEmitter struct{}

func (LogEmitter) AirdropCreated(id uint64, record Airdrop) {
	logger.Info("airdrop created",
		"id", id,
		"group", record.GroupID,
		"token", record.Token.Hex(),
		"manager", record.Manager.Hex(),
		"holder", record.Holder.Hex(),
		"amount", record.Amount.Dec(),
	)
}

func (LogEmitter) AirdropUpdated(id uint64, record Airdrop) {
	logger.Info("airdrop updated",
		"id", id,
		"group", record.GroupID,
		"manager", record.Manager.Hex(),
	)
}

func (LogEmitter) AirdropClaimed(id uint64, receiver common.Address) {
	logger.Info("airdrop claimed", "id", id, "receiver", receiver.Hex())
}
