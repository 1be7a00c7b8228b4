/*
Package types defines the domain model shared across the control
plane: the Node Registry's Node/NodeRole/NodeStatus, and the State
Manager's three-tier Container/Model/Package hierarchy, each with its
own derived-state enum (spec §4.1/§4.4).

Container, Model, and Package states are recomputed by
pkg/statemachine from the raw signals beneath them whenever the State
Manager's cascade touches a key; the only direct write is the State
Manager's UpdateResourceState admin override.
Model and Package learn which containers/models belong to them via the
pullpiri.model/pullpiri.package annotations carried on Container
records, not from a separate membership type.

Scenario is modeled as a referenced-only type: scenario-triggered
cascading is out of scope for this core (spec.md's own Non-goals).
*/
package types
