// Package harness runs optisync scenarios and compares their traces against
// golden files.
//
// A scenario is a YAML file naming a mutation batch (inline or by path), an
// input record, a list of steps and a list of assertions:
//
//	name: chat_confirm
//	batch:
//	  session: { $entity: Session, $op: create, title: { $input: title } }
//	input: { title: Chat }
//	steps:
//	  - do: mutate
//	    server:
//	      session: { id: temp_0, title: Chat, owner: u1 }
//	assertions:
//	  - type: entity
//	    entity: Session
//	    id: temp_0
//	    expect: { owner: u1 }
//
// Steps drive a real engine, cache and journal:
//   - set: write an entity record directly (seeding server state)
//   - mutate: run the batch through Engine.Mutate with a scripted executor
//     that accepts (optionally with server records) or rejects
//   - retain, release: adjust an entity cell's reference count
//   - gc: collect stale unreferenced cells
//
// Every step appends events to the trace. Ids, timestamps and transaction
// ids come from deterministic generators, so traces are byte-identical
// across runs and can be compared with goldie.
package harness
