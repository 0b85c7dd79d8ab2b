// Package transfer implements the resumable transfer manager for large
// artifact downloads (speech model files). A Manager tracks active transfers
// by resource ID and supports pause/resume without losing progress, true
// mid-flight cancellation with partial-file cleanup, and crash recovery by
// reattaching to transport tasks that survived a restart. Resume metadata is
// persisted before a transfer is issued so an interrupted download is never
// lost.
package transfer
