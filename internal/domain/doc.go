// Package domain holds the entities the rest of the system moves around:
// notes, the queue items that process them, and transfer tasks. It has no
// dependency on storage or transport.
package domain
