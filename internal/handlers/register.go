package handlers

import "github.com/agen-co/agenshield-sub008/internal/rpc"

// Register wires every handler into d's method table, matching the
// socket+HTTP and socket-only visibility sets spec.md §6 names: open_url
// joins policy_check/ping/http_request/file_read/file_list/events_batch on
// both transports; file_write, exec, secret_inject, secrets_sync,
// skill_install, skill_uninstall stay socket-only.
func Register(d *Deps, dispatcher *rpc.Dispatcher) {
	dispatcher.Register("ping", d.Ping)
	dispatcher.Register("policy_check", d.PolicyCheck)
	dispatcher.Register("http_request", d.HTTPRequest)
	dispatcher.Register("file_read", d.FileRead)
	dispatcher.Register("file_list", d.FileList)
	dispatcher.Register("open_url", d.OpenURL)
	dispatcher.Register("events_batch", d.EventsBatch)

	dispatcher.RegisterSocketOnly("file_write", d.FileWrite)
	dispatcher.RegisterSocketOnly("exec", d.Exec)
	dispatcher.RegisterSocketOnly("secret_inject", d.SecretInject)
	dispatcher.RegisterSocketOnly("secrets_sync", d.SecretsSync)
	dispatcher.RegisterSocketOnly("skill_install", d.SkillInstall)
	dispatcher.RegisterSocketOnly("skill_uninstall", d.SkillUninstall)
}
