package config

// defaultTOML is written on first run
const defaultTOML = `# pass-ssh-unpack configuration file
# Generated on first run. All fields are optional.

# Directory where SSH keys are written. Supports ~ for the home directory.
ssh_output_dir = "~/.ssh/proton-pass"

# Vault filters used when no --vault flag is given. Wildcards allowed,
# e.g. "Personal" or "Work*". Empty means all vaults.
default_vaults = []

# Item filters used when no --item flag is given. Wildcards allowed,
# e.g. "github/*" or "*-prod". Empty means all items.
default_items = []

# When to write generated public keys back to Proton Pass:
#   never    - never update public keys
#   if_empty - only fill an empty public key field
#   always   - always overwrite the public key
sync_public_key = "if_empty"

[rclone]
# Sync SFTP remotes into the rclone config.
enabled = true

# Proton Pass reference holding the rclone config password, used when the
# rclone config is encrypted. Takes precedence over RCLONE_CONFIG_PASS.
# Example: "pass://Personal/rclone/password"
password_path = ""

# Encrypt the rclone config after every change when a password is
# available, even if it was not encrypted before.
always_encrypt = false
`

// defaultYAML is written on first run when the config path ends in .yaml
const defaultYAML = `# pass-ssh-unpack configuration file
# Generated on first run. All fields are optional.

ssh_output_dir: "~/.ssh/proton-pass"
default_vaults: []
default_items: []
sync_public_key: "if_empty"

rclone:
  enabled: true
  password_path: ""
  always_encrypt: false
`
