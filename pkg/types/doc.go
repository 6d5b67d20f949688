/*
Package types defines the data model shared by the provisioning
pipeline, the job registry, the lifecycle controller, and the
port-forward store: ContainerSpec, CreationJob, ContainerRecord,
PortForwardRule, and HostInfo, plus the small enums (Stage, IPv6Mode,
TerminalStatus, ContainerStatus, Protocol) that tag their fields.
*/
package types
