// Package harness runs scripted sessions against the sync engine.
//
// A scenario seeds an in-memory remote store, drives a real engine through
// a flow of steps, and checks what the user would see along the way. Remote
// requests can be held open or failed, so scenarios can observe pending
// records and rollbacks deterministically.
//
// # Scenario Format
//
//	name: buy_milk
//	description: "A created todo shows as pending, then confirmed"
//	seed:
//	  categories:
//	    - {id: c1, title: Groceries}
//	flow:
//	  - do: todo.create
//	    args: {title: Buy milk}
//	    as: milk
//	    hold: true
//	  - do: check
//	    check:
//	      todos: ["Buy milk*"]
//	  - do: release
//	    args: {step: milk}
//	  - do: todo.tag
//	    args: {todo: "@milk", category: c1}
//	final:
//	  todos: ["Buy milk"]
//	  links: ["Buy milk:Groceries"]
//
// Labels in checks are titles. A pending record carries a trailing "*" and
// a completed todo a leading "[x] ". Links render as "todo:category" by
// title, sorted. The filter renders as "all", "no-category", or a category
// title.
//
// Steps without an expect block must succeed; with one, the error must
// contain expect.error. A check step retries until it matches, so change
// events folding in the background do not make scenarios flaky.
//
// # Determinism
//
// Remote ids are id1, id2, ... in write order and pending tokens tok-1,
// tok-2, ... in issue order. After the flow, held requests are released in
// issue order and the run waits until the local state equals the store
// before evaluating final. Render output is stable across runs and is
// compared with goldie golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/buy_milk.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
