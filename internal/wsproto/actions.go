package wsproto

// Inbound message types (client -> host), per spec §6.2.
const (
	TypeHeartbeat         = "heartbeat"
	TypeRegisterPushToken = "register_push_token"

	TypeCreateAgent             = "create_agent"
	TypeSendMessage             = "send_message"
	TypeCancelTurn              = "cancel_turn"
	TypeRespondToPermission     = "respond_to_permission"
	TypeArchiveAgent            = "archive_agent"
	TypeUpdateAgent             = "update_agent"
	TypeDeleteAgent             = "delete_agent"
	TypeFetchAgents             = "fetch_agents"
	TypeFetchAgent              = "fetch_agent"
	TypeFetchAgentTimeline      = "fetch_agent_timeline"
	TypeEnsureAgentInitialized  = "ensure_agent_initialized"
	TypeRefreshAgent            = "refresh_agent"
	TypeSetMode                 = "set_mode"
	TypeListProviderModels      = "list_provider_models"
	TypeListCommands            = "list_commands"

	TypeExploreFilesystem     = "explore_filesystem"
	TypeRequestDownloadToken  = "request_download_token"
	TypeSubscribeCheckoutDiff = "subscribe_checkout_diff"
	TypeUnsubscribeCheckoutDiff = "unsubscribe_checkout_diff"
	TypeGetHighlightedDiff    = "get_highlighted_diff"
	TypeCheckoutStatus        = "checkout_status"
	TypeCheckoutPRStatus      = "checkout_pr_status"

	TypeListTerminals     = "list_terminals"
	TypeCreateTerminal    = "create_terminal"
	TypeSubscribeTerminal = "subscribe_terminal"
	TypeUnsubscribeTerminal = "unsubscribe_terminal"
	TypeSendTerminalInput = "send_terminal_input"
	TypeKillTerminal      = "kill_terminal"
)

// Outbound message types (host -> client), per spec §6.2.
const (
	TypeWelcome     = "welcome"
	TypeHeartbeatAck = "heartbeat_ack"

	TypeAgentState          = "agent_state"
	TypeAgentStream         = "agent_stream"
	TypeAgentDirectoryUpdate = "agent_directory_update"

	TypePermissionRequested = "permission_requested"
	TypePermissionResolved  = "permission_resolved"

	TypeCheckoutDiffUpdate    = "checkout_diff_update"
	TypeHighlightedDiffUpdate = "highlighted_diff_update"

	TypeTerminalState  = "terminal_state"
	TypeTerminalOutput = "terminal_output"
)

// Error kinds, per spec §7's error-kind taxonomy.
const (
	ErrorKindValidation = "validation"
	ErrorKindNotFound   = "not_found"
	ErrorKindConflict   = "conflict"
	ErrorKindProvider   = "provider"
	ErrorKindInternal   = "internal"
)

// ErrorKindFor classifies an error returned by a Handler into one of the
// error kinds above. Handlers that need a specific kind should return an
// error implementing kindedError; anything else is treated as internal.
func ErrorKindFor(err error) string {
	if k, ok := err.(kindedError); ok {
		return k.ErrorKind()
	}
	return ErrorKindInternal
}

// kindedError lets a handler-level error carry its own error kind instead
// of defaulting to "internal".
type kindedError interface {
	error
	ErrorKind() string
}
