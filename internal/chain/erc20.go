package chain

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the first
// topic of every ERC-20 Transfer event.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Function selectors for token metadata calls.
const (
	selectorSymbol   = "0x95d89b41" // symbol()
	selectorDecimals = "0x313ce567" // decimals()
)

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsHexAddress(s string) bool {
	return hexAddressRe.MatchString(s)
}

// Transfer is one decoded ERC-20 Transfer event.
type Transfer struct {
	From        string
	To          string
	Value       *big.Int
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
}

// DecodeTransfer decodes a raw Transfer log. A malformed entry fails decoding
// without affecting the rest of its chunk.
func DecodeTransfer(log Log) (Transfer, error) {
	if len(log.Topics) != 3 || log.Topics[0] != TransferTopic {
		return Transfer{}, fmt.Errorf("log %s/%s: not an indexed Transfer event", log.TxHash, log.LogIndex)
	}

	from, err := topicAddress(log.Topics[1])
	if err != nil {
		return Transfer{}, fmt.Errorf("log %s/%s: from: %w", log.TxHash, log.LogIndex, err)
	}
	to, err := topicAddress(log.Topics[2])
	if err != nil {
		return Transfer{}, fmt.Errorf("log %s/%s: to: %w", log.TxHash, log.LogIndex, err)
	}
	value, err := ParseHexBig(log.Data)
	if err != nil {
		return Transfer{}, fmt.Errorf("log %s/%s: value: %w", log.TxHash, log.LogIndex, err)
	}
	blockNumber, err := ParseHexUint64(log.BlockNumber)
	if err != nil {
		return Transfer{}, fmt.Errorf("log %s/%s: block number: %w", log.TxHash, log.LogIndex, err)
	}
	logIndex, err := ParseHexUint64(log.LogIndex)
	if err != nil {
		return Transfer{}, fmt.Errorf("log %s/%s: log index: %w", log.TxHash, log.LogIndex, err)
	}

	return Transfer{
		From:        from,
		To:          to,
		Value:       value,
		BlockNumber: blockNumber,
		TxHash:      log.TxHash,
		LogIndex:    logIndex,
	}, nil
}

// topicAddress extracts the address from a 32-byte indexed topic.
func topicAddress(topic string) (string, error) {
	trimmed := strings.TrimPrefix(topic, "0x")
	if len(trimmed) != 64 || trimmed == topic {
		return "", fmt.Errorf("invalid address topic %q", topic)
	}
	return "0x" + strings.ToLower(trimmed[24:]), nil
}

// TokenMetadata is the display unit of a token contract.
type TokenMetadata struct {
	Symbol   string
	Decimals int
}

// FetchTokenMetadata reads symbol() and decimals() from the token contract.
func FetchTokenMetadata(ctx context.Context, client Client, token string) (TokenMetadata, error) {
	symRet, err := client.Call(ctx, token, selectorSymbol)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("token %s: symbol(): %w", token, err)
	}
	symbol, err := decodeABIString(symRet)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("token %s: symbol(): %w", token, err)
	}

	decRet, err := client.Call(ctx, token, selectorDecimals)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("token %s: decimals(): %w", token, err)
	}
	decimals, err := ParseHexBig(decRet)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("token %s: decimals(): %w", token, err)
	}
	if !decimals.IsInt64() || decimals.Int64() < 0 || decimals.Int64() > 255 {
		return TokenMetadata{}, fmt.Errorf("token %s: implausible decimals %s", token, decimals)
	}

	return TokenMetadata{Symbol: symbol, Decimals: int(decimals.Int64())}, nil
}

// decodeABIString decodes a solidity `string` return value. Some legacy
// tokens return bytes32 instead; those are handled as fixed-width text.
func decodeABIString(ret string) (string, error) {
	data := strings.TrimPrefix(ret, "0x")
	if data == ret {
		return "", fmt.Errorf("invalid return data %q", ret)
	}

	// bytes32 symbol (legacy tokens)
	if len(data) == 64 {
		return strings.TrimRight(hexToASCII(data), "\x00"), nil
	}

	// dynamic string: 32-byte offset, 32-byte length, padded bytes
	if len(data) < 128 {
		return "", fmt.Errorf("return data too short (%d hex chars)", len(data))
	}
	length, err := ParseHexBig("0x" + data[64:128])
	if err != nil {
		return "", err
	}
	n := int(length.Int64())
	if n < 0 || 128+2*n > len(data) {
		return "", fmt.Errorf("string length %d exceeds return data", n)
	}
	return hexToASCII(data[128 : 128+2*n]), nil
}

func hexToASCII(h string) string {
	var b strings.Builder
	for i := 0; i+2 <= len(h); i += 2 {
		var c byte
		_, err := fmt.Sscanf(h[i:i+2], "%02x", &c)
		if err != nil {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}
