package controller

import "fmt"

// Raw exit codes reported by the remote-desktop client.
const (
	ClientExitSuccess         = 0
	ClientExitError           = 1
	ClientExitGetHostByName   = 2
	ClientExitConnectFailed   = 3
	ClientExitSocketFailed    = 4
	ClientExitSendFailed      = 5
	ClientExitRecvFailed      = 6
	ClientExitSSLError        = 7
	ClientExitNotEnoughMemory = 8
	ClientExitAgentTimeout    = 9
	ClientExitAgentError      = 10
)

// ResultCode is the normalized, platform-independent outcome of a client
// session. Values follow the RDP disconnect-reason numbering embedders
// already understand.
type ResultCode int

// Normalized result codes.
const (
	ResultSuccess       ResultCode = 0
	ResultInvalidParams ResultCode = 1
	ResultInternalError ResultCode = 4
	ResultHostNotFound  ResultCode = 260
	ResultOutOfMemory   ResultCode = 262
	ResultTimeout       ResultCode = 264
	ResultConnectFailed ResultCode = 516
	ResultSendFailed    ResultCode = 772
	ResultRecvFailed    ResultCode = 1028
	ResultAgentError    ResultCode = 1284
)

var resultNames = map[ResultCode]string{
	ResultSuccess:       "success",
	ResultInvalidParams: "invalid_params",
	ResultInternalError: "internal_error",
	ResultHostNotFound:  "host_not_found",
	ResultOutOfMemory:   "out_of_memory",
	ResultTimeout:       "timeout",
	ResultConnectFailed: "connect_failed",
	ResultSendFailed:    "send_failed",
	ResultRecvFailed:    "recv_failed",
	ResultAgentError:    "agent_error",
}

func (r ResultCode) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// IsSuccess reports whether r is ResultSuccess.
func (r ResultCode) IsSuccess() bool {
	return r == ResultSuccess
}

// TranslateExitCode maps a raw client exit status to a ResultCode.
// The mapping is total: unknown statuses, including a status that could
// not be determined, become ResultInternalError.
func TranslateExitCode(status int) ResultCode {
	switch status {
	case ClientExitSuccess:
		return ResultSuccess
	case ClientExitGetHostByName:
		return ResultHostNotFound
	case ClientExitConnectFailed:
		return ResultConnectFailed
	case ClientExitError, ClientExitSocketFailed, ClientExitSSLError:
		return ResultInternalError
	case ClientExitRecvFailed:
		return ResultRecvFailed
	case ClientExitSendFailed:
		return ResultSendFailed
	case ClientExitNotEnoughMemory:
		return ResultOutOfMemory
	case ClientExitAgentTimeout:
		return ResultTimeout
	case ClientExitAgentError:
		return ResultAgentError
	default:
		return ResultInternalError
	}
}
