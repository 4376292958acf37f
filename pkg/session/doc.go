/*
Package session keeps one ConversationState per connected client.

History is retained across turns of a session and discarded when the session is
closed. Turns of the same session are serialized by a reference-counted local lock
and, when configured, a distributed lock so replicas behind a load balancer never
drive the same conversation concurrently. Sessions share nothing with each other.
*/
package session
