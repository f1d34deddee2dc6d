package test

// SampleConfigYAML returns a sample YAML configuration string.
func SampleConfigYAML() string {
	return `log-level: debug
log-format: json
metrics-file: /var/lib/node_exporter/opsrun.prom
exec:
  timeout: 10m
  grace-period: 3s
  wait-delay: 1s
poll:
  interval: 15s
  max-wait: 2h
`
}

// SampleStatusJSON returns a remote run document in the shape the status
// endpoints serve.
func SampleStatusJSON(status string) string {
	return `{"id": 4242, "run": {"name": "deploy-web", "deploymentRunStatus": "` + status + `"}}`
}
