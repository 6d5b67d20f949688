package fsmutate

// sshInstallScript is staged at /tmp/install_ssh.sh and executed by the
// Provisioning Pipeline through the Host Invoker in a non-interactive,
// unregistered nspawn invocation with the host resolv.conf bind-mounted
// read-only. It installs and enables the SSH server and ensures the
// two required sshd_config directives are present exactly once.
const sshInstallScript = `#!/bin/sh
set -e
export DEBIAN_FRONTEND=noninteractive
apt-get update
apt-get install -y openssh-server
systemctl enable ssh

grep -q '^PermitRootLogin yes$' /etc/ssh/sshd_config || echo 'PermitRootLogin yes' >> /etc/ssh/sshd_config
grep -q '^PasswordAuthentication yes$' /etc/ssh/sshd_config || echo 'PasswordAuthentication yes' >> /etc/ssh/sshd_config
`

// wireguardInstallScript is staged at /tmp/install_wireguard.sh,
// executed the same way as sshInstallScript.
const wireguardInstallScript = `#!/bin/sh
set -e
export DEBIAN_FRONTEND=noninteractive
apt-get update
apt-get install -y wireguard
systemctl enable wg-quick@wg0
`
