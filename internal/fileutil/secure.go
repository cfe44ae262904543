// Package fileutil writes files that must stay private to the current user,
// such as exported validation caches, with correct semantics on both Unix
// and Windows.
//
// On Unix the standard mode bits (0600, 0700) are enough. On Windows the
// mode bits are ignored, so a DACL restricting access to the current user is
// applied instead.
package fileutil
