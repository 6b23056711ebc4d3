// Package channr decodes RSL channel numbers into dedicated channel types
// and the multiframe scheduler tasks that serve them.
package channr
