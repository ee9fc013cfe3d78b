//go:build !windows

package rclone

// passwordCommand is run by rclone to read the password; it echoes the
// stdin pipe rclone inherits from us.
const passwordCommand = "cat"
