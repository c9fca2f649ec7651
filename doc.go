/*
Package rfpipe implements the core runtime of a streaming
intensity/weights processing pipeline for time-ordered, frequency-
channelized sample streams.

Concept

A pipeline is a tree (in practice, usually a chain) of stages. Stages
negotiate chunk sizes, lag budgets and advance steps during a bind phase,
then run through a scheduler that repeatedly advances a high-water
position; each stage consumes everything available below its own chunk
alignment:

	construct -> bind -> allocate -> run (start, advance*, end) -> deallocate

Stages exchange samples through ring buffers (package ring): fixed
capacity, wrap-around, multi-channel stores addressed by an undecimated
sample position. A ring buffer is shared between exactly one producer and
one or more consumers and is sized once, during bind, from the union of
every consumer's requirements.

Components

A concrete stage embeds *Base and implements the Stage capability
interface:

	BindInner, UnbindInner, AllocateInner, DeallocateInner, StartInner, AdvanceInner, EndInner, Jsonize

Base supplies the non-virtual outer logic shared by every stage: the
bind/advance/run protocol, ring buffer bookkeeping, plot groups and the
output attribute document. Package chunked adapts this interface for the
common case of a stage that processes fixed-size chunks of input.

Registration

Stages that can be built from a JSON-shaped configuration document
register a factory with RegisterFactory; FromJSON dispatches on the
document's class_name field.
*/
package rfpipe
