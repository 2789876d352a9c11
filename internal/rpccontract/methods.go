package rpccontract

const (
	ServiceName = "aharadar.llm.v1.Orchestrator"

	// TokenHeader carries a static token or a signed JWT.
	TokenHeader = "x-aharadar-token"
)

const (
	MethodGetHealth        = "/" + ServiceName + "/GetHealth"
	MethodGetSummary       = "/" + ServiceName + "/GetSummary"
	MethodListCalls        = "/" + ServiceName + "/ListCalls"
	MethodGetQuotaStatus   = "/" + ServiceName + "/GetQuotaStatus"
	MethodCheckQuotaForRun = "/" + ServiceName + "/CheckQuotaForRun"
	MethodRunTask          = "/" + ServiceName + "/RunTask"
)

// WriteMethods spend provider quota or credits and require authentication
// when the server has any configured.
var WriteMethods = map[string]struct{}{
	MethodRunTask: {},
}
