// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/toole-brendan/solominer/mining/work"
)

// Stratum method names handled by the session manager.
const (
	methodSubscribe     = "mining.subscribe"
	methodAuthorize     = "mining.authorize"
	methodSubmit        = "mining.submit"
	methodNotify        = "mining.notify"
	methodSetDifficulty = "mining.set_difficulty"
)

// request is an outbound JSON-RPC message.  Field order matters: the wire
// form is {"id":N,"method":"...","params":[...]} followed by a newline.
type request struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// serverMessage is any inbound line from the pool.  A response carries a
// non-null id plus result/error; a notification carries a method with a
// null id.
type serverMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// isNotification reports whether the message is a server-initiated
// notification rather than a response to one of our requests.
func (m *serverMessage) isNotification() bool {
	return m.Method != ""
}

// marshalRequest encodes an outbound request as a newline-terminated wire
// line.
func marshalRequest(req *request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

// unmarshalMessage decodes one wire line into a serverMessage.
func unmarshalMessage(line []byte, msg *serverMessage) error {
	return json.Unmarshal(line, msg)
}

// StratumError represents an error object attached to a pool response.
type StratumError struct {
	Code    int
	Message string
}

// Error satisfies the error interface.
func (e *StratumError) Error() string {
	return fmt.Sprintf("stratum error %d: %s", e.Code, e.Message)
}

// parseStratumError decodes the error member of a response.  Pools emit it
// either as the classic [code, message, traceback] triple or as an object
// with code/message fields; a JSON null means no error.
func parseStratumError(raw json.RawMessage) *StratumError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		serr := &StratumError{}
		if len(arr) > 0 {
			var code float64
			if json.Unmarshal(arr[0], &code) == nil {
				serr.Code = int(code)
			}
		}
		if len(arr) > 1 {
			var msg string
			if json.Unmarshal(arr[1], &msg) == nil {
				serr.Message = msg
			}
		}
		return serr
	}

	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return &StratumError{Code: obj.Code, Message: obj.Message}
	}

	return &StratumError{Message: string(raw)}
}

// parseSubscribeResult extracts extranonce1 and the extranonce2 width from
// a mining.subscribe response:
//
//	[[["mining.notify", subscription_id], ...], extranonce1_hex, extranonce2_size]
//
// The subscription list is ignored; only the trailing two members are
// required.
func parseSubscribeResult(raw json.RawMessage) ([]byte, int, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, 0, makeError(ErrProtocol, "malformed subscribe result", err)
	}
	if len(fields) < 3 {
		return nil, 0, makeError(ErrProtocol, fmt.Sprintf("subscribe "+
			"result has %d members, need 3", len(fields)), nil)
	}

	var en1Hex string
	if err := json.Unmarshal(fields[1], &en1Hex); err != nil {
		return nil, 0, makeError(ErrProtocol, "malformed extranonce1", err)
	}
	extranonce1, err := hex.DecodeString(en1Hex)
	if err != nil {
		return nil, 0, makeError(ErrProtocol, "malformed extranonce1 hex", err)
	}

	var en2Size int
	if err := json.Unmarshal(fields[2], &en2Size); err != nil {
		return nil, 0, makeError(ErrProtocol, "malformed extranonce2 size", err)
	}
	if en2Size <= 0 || en2Size > 8 {
		return nil, 0, makeError(ErrProtocol, fmt.Sprintf("extranonce2 "+
			"size %d out of range", en2Size), nil)
	}

	return extranonce1, en2Size, nil
}

// parseBoolResult extracts the boolean result of an authorize or submit
// response.
func parseBoolResult(raw json.RawMessage) (bool, error) {
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, makeError(ErrProtocol, "malformed boolean result", err)
	}
	return ok, nil
}

// parseNotifyParams decodes a mining.notify parameter list into a Job:
//
//	[job_id, prevhash, coinbase1, coinbase2, merkle_branches[],
//	 version, nbits, ntime, clean_jobs]
//
// Hex decode failures yield an ErrInvalidJob; the caller drops the job and
// keeps the session alive.
func parseNotifyParams(raw json.RawMessage) (*work.Job, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed notify params", err)
	}
	if len(fields) < 9 {
		return nil, makeError(ErrInvalidJob, fmt.Sprintf("notify has %d "+
			"params, need 9", len(fields)), nil)
	}

	job := &work.Job{}
	var err error

	if err = json.Unmarshal(fields[0], &job.ID); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed job id", err)
	}

	var prevHashHex string
	if err = json.Unmarshal(fields[1], &prevHashHex); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed prevhash", err)
	}
	if job.PrevHash, err = decodeHash32(prevHashHex); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed prevhash hex", err)
	}

	if job.CoinbasePrefix, err = decodeHexField(fields[2]); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed coinbase1", err)
	}
	if job.CoinbaseSuffix, err = decodeHexField(fields[3]); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed coinbase2", err)
	}

	var branches []string
	if err = json.Unmarshal(fields[4], &branches); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed merkle branches", err)
	}
	if len(branches) > work.MaxMerkleBranches {
		return nil, makeError(ErrInvalidJob, fmt.Sprintf("%d merkle "+
			"branches exceeds limit", len(branches)), nil)
	}
	for _, branchHex := range branches {
		branch, err := decodeHash32(branchHex)
		if err != nil {
			return nil, makeError(ErrInvalidJob, "malformed merkle branch hex", err)
		}
		job.MerkleBranch = append(job.MerkleBranch, branch)
	}

	if job.Version, err = decodeUint32Field(fields[5]); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed version", err)
	}
	if job.NBits, err = decodeUint32Field(fields[6]); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed nbits", err)
	}
	if job.NTime, err = decodeUint32Field(fields[7]); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed ntime", err)
	}

	if err = json.Unmarshal(fields[8], &job.Clean); err != nil {
		return nil, makeError(ErrInvalidJob, "malformed clean flag", err)
	}

	return job, nil
}

// parseSetDifficultyParams decodes a mining.set_difficulty parameter list.
func parseSetDifficultyParams(raw json.RawMessage) (float64, error) {
	var fields []float64
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, makeError(ErrProtocol, "malformed set_difficulty params", err)
	}
	if len(fields) < 1 {
		return 0, makeError(ErrProtocol, "empty set_difficulty params", nil)
	}
	return fields[0], nil
}

// decodeHash32 decodes a 64-digit hex string into 32 raw bytes, verbatim.
func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// decodeHexField unmarshals a JSON string member and hex decodes it.
func decodeHexField(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return hex.DecodeString(s)
}

// decodeUint32Field unmarshals a JSON string member holding a big-endian
// hex integer.
func decodeUint32Field(raw json.RawMessage) (uint32, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
