// Package systemd holds the unit template installed by trustplane init.
package systemd

// DaemonUnit returns the systemd unit for the kernel daemon. The config
// path is baked in at install time; systemd hardening keeps the daemon
// away from anything it does not own.
func DaemonUnit(configPath string) string {
	return `[Unit]
Description=Trustplane agent trust kernel daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=/usr/local/bin/trustplane daemon --config ` + configPath + `
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=/var/lib/trustplane

[Install]
WantedBy=multi-user.target
`
}
